package core

import "neuroprom.com/chat-api/internal/store"

const chatSystemInstruction = "You are a friendly assistant of the NeuroProm company. " +
	"Answer users' questions politely and to the point. " +
	"If you are asked something personal or how you are doing, answer sincerely and warmly."

// buildCompletionContext prepends the system instruction to the stored
// history and maps each message to its provider role, keeping order and
// content as they are.
func buildCompletionContext(history []store.Message) []ChatTurn {
	turns := make([]ChatTurn, 0, len(history)+1)
	turns = append(turns, ChatTurn{Role: RoleSystem, Content: chatSystemInstruction})
	for _, msg := range history {
		role := RoleUser
		if msg.IsAssistant {
			role = RoleAssistant
		}
		turns = append(turns, ChatTurn{Role: role, Content: msg.Content})
	}
	return turns
}
