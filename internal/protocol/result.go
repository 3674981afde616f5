package protocol

// ResultMessage is the status-code-plus-text acknowledgment for
// request-response exchanges on the socket.
type ResultMessage struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
}

func NewResultMessage(statusCode int, message string) ResultMessage {
	return ResultMessage{
		StatusCode: statusCode,
		Message:    message,
	}
}

// AuthStatus enumerates the authentication and permission outcomes. The
// integer codes and wording are a stable contract with existing clients.
type AuthStatus int

const (
	StatusSuccess AuthStatus = iota
	StatusTimeout
	StatusUnsupportedMessageType
	StatusNoPermission
	StatusExpireOrNotFound
	StatusOther
)

func (s AuthStatus) Result() ResultMessage {
	switch s {
	case StatusSuccess:
		return NewResultMessage(0, "Authenticated Successfully")
	case StatusTimeout:
		return NewResultMessage(1, "Authentication Timeout")
	case StatusUnsupportedMessageType:
		return NewResultMessage(2, "Only supports authenticated text message type")
	case StatusNoPermission:
		return NewResultMessage(3, "User does not have permission to access this group")
	case StatusExpireOrNotFound:
		return NewResultMessage(4, "User token is expired or not found")
	default:
		return NewResultMessage(5, "Failed to get user from user code")
	}
}
