package orchestration

import (
	"slices"

	"github.com/jinzhu/copier"
)

type Author int

const (
	AuthorUser Author = iota
	AuthorAgent
)

func (a Author) String() string {
	if a == AuthorUser {
		return "user"
	}
	return "agent"
}

type ChatMessage struct {
	ID     string
	Text   string
	Author Author
}

// Messages is the display state of the conversation: finished messages in
// display order and at most one agent message still being assembled.
type Messages struct {
	Finished   []ChatMessage
	InProgress *ChatMessage
}

// Snapshot is a deep copy that is safe to hand to other goroutines.
func (m *Messages) Snapshot() Messages {
	var snapshot Messages
	if err := copier.CopyWithOption(&snapshot, m, copier.Option{DeepCopy: true}); err != nil {
		logger.Warn("failed to copy messages", "error", err)
		snapshot.Finished = slices.Clone(m.Finished)
		if m.InProgress != nil {
			inProgress := *m.InProgress
			snapshot.InProgress = &inProgress
		}
	}
	return snapshot
}

func (m *Messages) appendAgentDelta(itemID, delta string) {
	m.agentMessage(itemID).Text += delta
}

func (m *Messages) setAgentText(itemID, text string) {
	m.agentMessage(itemID).Text = text
}

// agentMessage returns the in-progress message for itemID, finishing any
// message of a different item first.
func (m *Messages) agentMessage(itemID string) *ChatMessage {
	if m.InProgress != nil && m.InProgress.ID != itemID {
		m.flush()
	}
	if m.InProgress == nil {
		m.InProgress = &ChatMessage{ID: itemID, Author: AuthorAgent}
	}
	return m.InProgress
}

// flush moves the in-progress message into the finished pool.
func (m *Messages) flush() bool {
	if m.InProgress == nil {
		return false
	}
	m.Finished = append(m.Finished, *m.InProgress)
	m.InProgress = nil
	return true
}

func (m *Messages) addUser(id, text string) {
	m.Finished = append(m.Finished, ChatMessage{ID: id, Text: text, Author: AuthorUser})
}

// setUserTranscript fills a spoken user message, appending it when its item
// was never announced.
func (m *Messages) setUserTranscript(itemID, transcript string) {
	for i := range m.Finished {
		if m.Finished[i].ID == itemID && m.Finished[i].Author == AuthorUser {
			m.Finished[i].Text = transcript
			return
		}
	}
	m.addUser(itemID, transcript)
}

func (m *Messages) clear() {
	m.Finished = nil
	m.InProgress = nil
}
