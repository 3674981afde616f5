package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const insertParticipantQuery = "INSERT INTO participants (user_id, group_id) VALUES ($1, $2) RETURNING id, user_id, group_id"

func (db *PgGroupChatRepository) CreateUser(params CreateUserParams) (User, error) {
	res := db.conn.QueryRow(
		"INSERT INTO users (username, user_code, created_at) "+
			"VALUES ($1, $2, $3) RETURNING id, username, user_code, created_at",
		params.Username,
		params.UserCode,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.UserCode,
		&u.CreatedAt,
	)

	return u, mapPqError(err)
}

func (db *PgGroupChatRepository) GetUserById(id int) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, user_code, created_at FROM users "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	var u User
	err := row.Scan(
		&u.Id,
		&u.Username,
		&u.UserCode,
		&u.CreatedAt,
	)

	return u, err
}

func (db *PgGroupChatRepository) GetUserByCode(userCode string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, user_code, created_at FROM users "+
			"WHERE user_code = $1 LIMIT 1",
		userCode,
	)

	var u User
	err := row.Scan(
		&u.Id,
		&u.Username,
		&u.UserCode,
		&u.CreatedAt,
	)

	return u, err
}

// CreateGroup inserts the group and its owner's participant row in one
// transaction, so a group is never visible without its first member.
func (db *PgGroupChatRepository) CreateGroup(params CreateGroupParams) (Group, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Group{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res := tx.QueryRow(
		"INSERT INTO groups (name, group_code, user_id, approval_require, maximum_members, created_at, expired_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7) "+
			"RETURNING id, name, group_code, user_id, approval_require, maximum_members, created_at, expired_at",
		params.Name,
		params.GroupCode,
		params.OwnerId,
		params.ApprovalRequire,
		params.MaximumMembers,
		time.Now().UTC(),
		params.ExpiredAt,
	)

	var group Group
	err = scanGroup(res, &group)
	if err != nil {
		return Group{}, mapPqError(err)
	}

	_, err = tx.Exec(insertParticipantQuery, params.OwnerId, group.Id)
	if err != nil {
		return Group{}, mapPqError(err)
	}

	if err = tx.Commit(); err != nil {
		return Group{}, err
	}

	return group, nil
}

func (db *PgGroupChatRepository) GetGroupById(id int) (Group, error) {
	row := db.conn.QueryRow(
		"SELECT id, name, group_code, user_id, approval_require, maximum_members, created_at, expired_at "+
			"FROM groups WHERE id = $1 LIMIT 1",
		id,
	)

	var group Group
	err := scanGroup(row, &group)
	return group, err
}

func (db *PgGroupChatRepository) GetGroupByCode(groupCode string) (Group, error) {
	row := db.conn.QueryRow(
		"SELECT id, name, group_code, user_id, approval_require, maximum_members, created_at, expired_at "+
			"FROM groups WHERE group_code = $1 LIMIT 1",
		groupCode,
	)

	var group Group
	err := scanGroup(row, &group)
	return group, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGroup(row rowScanner, group *Group) error {
	var approvalRequire sql.NullBool
	var maxMembers sql.NullInt64
	var expiredAt sql.NullTime

	err := row.Scan(
		&group.Id,
		&group.Name,
		&group.GroupCode,
		&group.OwnerId,
		&approvalRequire,
		&maxMembers,
		&group.CreatedAt,
		&expiredAt,
	)
	if err != nil {
		return err
	}

	// approval_require and maximum_members are nullable with implicit
	// defaults: absent means open join and unbounded capacity.
	group.ApprovalRequire = approvalRequire.Valid && approvalRequire.Bool
	if maxMembers.Valid {
		n := int(maxMembers.Int64)
		group.MaximumMembers = &n
	}
	if expiredAt.Valid {
		t := expiredAt.Time
		group.ExpiredAt = &t
	}

	return nil
}

// lockGroup reads the group row under FOR UPDATE so capacity and expiry
// checks are serialized against concurrent joins and approvals.
func lockGroup(tx *sql.Tx, groupId int) (Group, error) {
	row := tx.QueryRow(
		"SELECT id, name, group_code, user_id, approval_require, maximum_members, created_at, expired_at "+
			"FROM groups WHERE id = $1 FOR UPDATE",
		groupId,
	)

	var group Group
	err := scanGroup(row, &group)
	return group, err
}

func participantCount(tx *sql.Tx, groupId int) (int, error) {
	var count int
	err := tx.QueryRow("SELECT COUNT(*) FROM participants WHERE group_id = $1", groupId).Scan(&count)
	return count, err
}

func participantExists(tx *sql.Tx, userId, groupId int) (bool, error) {
	var id int
	err := tx.QueryRow(
		"SELECT id FROM participants WHERE user_id = $1 AND group_id = $2 LIMIT 1",
		userId,
		groupId,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}

	return err == nil, err
}

func (db *PgGroupChatRepository) RequestJoin(userId, groupId int, message *string) (JoinResult, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return JoinResult{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	group, err := lockGroup(tx, groupId)
	if err != nil {
		return JoinResult{}, err
	}

	if group.Expired(time.Now().UTC()) {
		err = ErrGroupExpired
		return JoinResult{}, err
	}

	member, err := participantExists(tx, userId, groupId)
	if err != nil {
		return JoinResult{}, err
	}
	if member {
		err = ErrAlreadyMember
		return JoinResult{}, err
	}

	if !group.ApprovalRequire {
		var participant Participant
		participant, err = insertParticipant(tx, userId, group)
		if err != nil {
			return JoinResult{}, err
		}

		if err = tx.Commit(); err != nil {
			return JoinResult{}, err
		}

		return JoinResult{Participant: &participant}, nil
	}

	res := tx.QueryRow(
		"INSERT INTO waiting_list (user_id, group_id, message, created_at) "+
			"VALUES ($1, $2, $3, $4) RETURNING id, user_id, group_id, message, created_at",
		userId,
		groupId,
		message,
		time.Now().UTC(),
	)

	var entry WaitingListEntry
	err = res.Scan(
		&entry.Id,
		&entry.UserId,
		&entry.GroupId,
		&entry.Message,
		&entry.CreatedAt,
	)
	if err != nil {
		if errors.Is(mapPqError(err), ErrDuplicateKey) {
			err = ErrAlreadyRequested
		}
		return JoinResult{}, err
	}

	if err = tx.Commit(); err != nil {
		return JoinResult{}, err
	}

	return JoinResult{WaitingList: &entry}, nil
}

// insertParticipant enforces the capacity invariant under the group row
// lock held by the caller's transaction.
func insertParticipant(tx *sql.Tx, userId int, group Group) (Participant, error) {
	if group.MaximumMembers != nil {
		count, err := participantCount(tx, group.Id)
		if err != nil {
			return Participant{}, err
		}
		if count >= *group.MaximumMembers {
			return Participant{}, ErrGroupFull
		}
	}

	var participant Participant
	err := tx.QueryRow(insertParticipantQuery, userId, group.Id).Scan(
		&participant.Id,
		&participant.UserId,
		&participant.GroupId,
	)
	if err != nil {
		if errors.Is(mapPqError(err), ErrDuplicateKey) {
			return Participant{}, ErrAlreadyMember
		}
		return Participant{}, err
	}

	return participant, nil
}

// ApproveJoinRequest promotes a waiting list entry to a participant.
// Capacity is enforced at promotion time, not at request time, so pending
// requests may outnumber the remaining slots.
func (db *PgGroupChatRepository) ApproveJoinRequest(userId, groupId int) (Participant, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Participant{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	group, err := lockGroup(tx, groupId)
	if err != nil {
		return Participant{}, err
	}

	if group.Expired(time.Now().UTC()) {
		err = ErrGroupExpired
		return Participant{}, err
	}

	res, err := tx.Exec(
		"DELETE FROM waiting_list WHERE user_id = $1 AND group_id = $2",
		userId,
		groupId,
	)
	if err != nil {
		return Participant{}, err
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return Participant{}, err
	}
	if deleted == 0 {
		err = ErrNoJoinRequest
		return Participant{}, err
	}

	participant, err := insertParticipant(tx, userId, group)
	if err != nil {
		return Participant{}, err
	}

	if err = tx.Commit(); err != nil {
		return Participant{}, err
	}

	return participant, nil
}

// RejectJoinRequest deletes the waiting list entry. Rejecting an entry
// that is already gone is a no-op.
func (db *PgGroupChatRepository) RejectJoinRequest(userId, groupId int) error {
	_, err := db.conn.Exec(
		"DELETE FROM waiting_list WHERE user_id = $1 AND group_id = $2",
		userId,
		groupId,
	)

	return err
}

func (db *PgGroupChatRepository) ListJoinRequests(groupId int) ([]WaitingListEntry, error) {
	rows, err := db.conn.Query(
		"SELECT id, user_id, group_id, message, created_at FROM waiting_list "+
			"WHERE group_id = $1 ORDER BY created_at",
		groupId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []WaitingListEntry
	for rows.Next() {
		var entry WaitingListEntry
		if err = rows.Scan(&entry.Id, &entry.UserId, &entry.GroupId, &entry.Message, &entry.CreatedAt); err != nil {
			break
		}

		entries = append(entries, entry)
	}

	return entries, err
}

func (db *PgGroupChatRepository) IsParticipant(userId, groupId int) bool {
	res := db.conn.QueryRow(
		"SELECT id FROM participants WHERE user_id = $1 AND group_id = $2 LIMIT 1",
		userId,
		groupId,
	)

	var id int
	return res.Scan(&id) == nil
}

func (db *PgGroupChatRepository) ListParticipantGroups(userId int) ([]Group, error) {
	rows, err := db.conn.Query(
		"SELECT g.id, g.name, g.group_code, g.user_id, g.approval_require, g.maximum_members, g.created_at, g.expired_at "+
			"FROM participants p JOIN groups g ON g.id = p.group_id WHERE p.user_id = $1",
		userId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		var group Group
		if err = scanGroup(rows, &group); err != nil {
			break
		}

		groups = append(groups, group)
	}

	return groups, err
}

// InsertMessage writes the message row and all of its attachments in a
// single transaction; a message is never visible without its attachments.
func (db *PgGroupChatRepository) InsertMessage(params InsertMessageParams) (Message, error) {
	if params.MessageType == MessageTypeAttachment && len(params.Attachments) == 0 {
		return Message{}, ErrNoAttachments
	}
	if params.MessageType == MessageTypeText && (params.Content == nil || *params.Content == "") {
		return Message{}, ErrEmptyContent
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	group, err := lockGroup(tx, params.GroupId)
	if err != nil {
		return Message{}, err
	}

	if group.Expired(time.Now().UTC()) {
		err = ErrGroupExpired
		return Message{}, err
	}

	member, err := participantExists(tx, params.UserId, params.GroupId)
	if err != nil {
		return Message{}, err
	}
	if !member {
		err = ErrNotAParticipant
		return Message{}, err
	}

	res := tx.QueryRow(
		"INSERT INTO messages (message_uuid, content, message_type, created_at, user_id, group_id) "+
			"VALUES ($1, $2, $3, $4, $5, $6) "+
			"RETURNING id, message_uuid, content, message_type, created_at, user_id, group_id",
		params.MessageUuid,
		params.Content,
		params.MessageType,
		time.Now().UTC(),
		params.UserId,
		params.GroupId,
	)

	var msg Message
	err = res.Scan(
		&msg.Id,
		&msg.MessageUuid,
		&msg.Content,
		&msg.MessageType,
		&msg.CreatedAt,
		&msg.UserId,
		&msg.GroupId,
	)
	if err != nil {
		return Message{}, mapPqError(err)
	}

	for _, att := range params.Attachments {
		var stored Attachment
		err = tx.QueryRow(
			"INSERT INTO attachments (url, attachment_type, message_id) "+
				"VALUES ($1, $2, $3) RETURNING id, url, attachment_type, message_id",
			att.Url,
			att.AttachmentType,
			msg.Id,
		).Scan(
			&stored.Id,
			&stored.Url,
			&stored.AttachmentType,
			&stored.MessageId,
		)
		if err != nil {
			return Message{}, err
		}

		msg.Attachments = append(msg.Attachments, stored)
	}

	if err = tx.Commit(); err != nil {
		return Message{}, err
	}

	return msg, nil
}

func (db *PgGroupChatRepository) GetMessages(groupId, before, limit int) ([]Message, error) {
	var upper = 1<<31 - 1
	if before > 0 {
		upper = before - 1
	}

	if limit <= 0 {
		limit = 20
	}

	rows, err := db.conn.Query(
		"SELECT id, message_uuid, content, message_type, created_at, user_id, group_id FROM messages "+
			"WHERE group_id = $1 AND id <= $2 ORDER BY id DESC LIMIT $3",
		groupId,
		upper,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages = make([]Message, 0, limit)
	var ids []int
	for rows.Next() {
		var msg Message
		if err = rows.Scan(&msg.Id, &msg.MessageUuid, &msg.Content, &msg.MessageType, &msg.CreatedAt, &msg.UserId, &msg.GroupId); err != nil {
			return nil, err
		}

		messages = append(messages, msg)
		ids = append(ids, msg.Id)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return messages, nil
	}

	attRows, err := db.conn.Query(
		"SELECT id, url, attachment_type, message_id FROM attachments WHERE message_id = ANY($1)",
		pq.Array(ids),
	)
	if err != nil {
		return nil, err
	}
	defer attRows.Close()

	byMessage := make(map[int][]Attachment)
	for attRows.Next() {
		var att Attachment
		if err = attRows.Scan(&att.Id, &att.Url, &att.AttachmentType, &att.MessageId); err != nil {
			return nil, err
		}

		byMessage[att.MessageId] = append(byMessage[att.MessageId], att)
	}
	if err = attRows.Err(); err != nil {
		return nil, err
	}

	for i := range messages {
		messages[i].Attachments = byMessage[messages[i].Id]
	}

	return messages, nil
}

func (db *PgGroupChatRepository) GetMessageByUuid(msgUuid uuid.UUID) (Message, error) {
	row := db.conn.QueryRow(
		"SELECT id, message_uuid, content, message_type, created_at, user_id, group_id FROM messages "+
			"WHERE message_uuid = $1 LIMIT 1",
		msgUuid,
	)

	var msg Message
	err := row.Scan(
		&msg.Id,
		&msg.MessageUuid,
		&msg.Content,
		&msg.MessageType,
		&msg.CreatedAt,
		&msg.UserId,
		&msg.GroupId,
	)

	return msg, err
}

func (db *PgGroupChatRepository) GetMessagesByIds(ids []int) ([]Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := db.conn.Query(
		"SELECT id, message_uuid, content, message_type, created_at, user_id, group_id FROM messages "+
			"WHERE id = ANY($1)",
		pq.Array(ids),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		if err = rows.Scan(&msg.Id, &msg.MessageUuid, &msg.Content, &msg.MessageType, &msg.CreatedAt, &msg.UserId, &msg.GroupId); err != nil {
			return nil, err
		}

		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// DeleteMessages removes the messages and their attachments together.
func (db *PgGroupChatRepository) DeleteMessages(ids []int) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.Exec("DELETE FROM attachments WHERE message_id = ANY($1)", pq.Array(ids))
	if err != nil {
		return err
	}

	_, err = tx.Exec("DELETE FROM messages WHERE id = ANY($1)", pq.Array(ids))
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (db *PgGroupChatRepository) EditMessageContent(id int, content string) error {
	res, err := db.conn.Exec("UPDATE messages SET content = $2 WHERE id = $1", id, content)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("message %d not found", id)
	}

	return nil
}
