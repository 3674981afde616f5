package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"groupchat/internal/config"
	"groupchat/internal/database"
	"groupchat/internal/server"
	"groupchat/internal/testutil"
)

func TestNewGroupChatApp(t *testing.T) {
	mux := http.NewServeMux()
	logger := testutil.TestLogger(t)
	cs := &server.ChatServer{}
	db := &database.MockGroupChatRepository{}
	cfg := &config.Config{
		ServerAddr:     "localhost:8080",
		DatabaseDSN:    "dsn",
		SigningKey:     []byte("secret"),
		AllowedOrigins: []string{"http://localhost:3000"},
	}

	app := NewGroupChatApp(mux, logger, cs, db, cfg)

	assert.NotNil(t, app, "expected app to be initialized")
	assert.NotNil(t, app.mux, "expected mux to be initialized")
	assert.NotNil(t, app.generateShortId, "expected shortid generator to be set")
	assert.Equal(t, app.log, logger, "expected logger to be set")
	assert.Equal(t, app.db, db, "expected db to be set")
	assert.Equal(t, app.cs, cs, "expected chat server to be set")
	assert.Equal(t, app.signingKey, cfg.SigningKey, "expected signing key to be set")
	assert.Equal(t, app.allowedOrigins, cfg.AllowedOrigins, "expected allowed origins to be set")
	assert.Equal(t, app.mux.Addr, cfg.ServerAddr, "expected server address to match config")
}
