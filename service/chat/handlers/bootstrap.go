package handlers

import (
	"ChatRelay/service/chat"
)

// RegisterAll wires every event handler into the server's router.
func RegisterAll(s *chat.Server) {
	for _, h := range []chat.Handler{
		NewAuthHandler(),
		NewJoinHandler(),
		NewTypingHandler(),
		NewSendMessageHandler(),
		NewMarkReadHandler(),
		NewReactionHandler(),
		NewEditMessageHandler(),
		NewDeleteMessageHandler(),
		NewSettingsHandler(),
		NewEncryptionKeyHandler(),
		NewCallInitiateHandler(),
		NewCallSignalHandler(),
		NewCallEndHandler(),
	} {
		s.Router().Register(h)
	}
}
