package history

import (
	"errors"
	"fmt"
	"sync"

	"github.com/jinzhu/copier"
	"github.com/samber/lo"

	"talkpartner/internal/domain"
)

// ErrNotLastSystem is returned by PatchLastSystem when the newest message is
// not a system message.
var ErrNotLastSystem = errors.New("last message is not a system message")

var deepCopy = copier.Option{DeepCopy: true}

// Log is the ordered conversation history. Entries are only appended,
// truncated on reset, or patched in place through PatchLastSystem.
type Log struct {
	mu       sync.RWMutex
	messages []domain.Message
}

func NewLog() *Log {
	return &Log{}
}

// Append stores a copy of message and returns its index.
func (l *Log) Append(message domain.Message) (int, error) {
	stored, err := cloneMessage(message)
	if err != nil {
		return -1, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, stored)
	return len(l.messages) - 1, nil
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

// Snapshot returns a deep copy callers may keep or modify.
func (l *Log) Snapshot() ([]domain.Message, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.Message, 0, len(l.messages))
	if err := copier.CopyWithOption(&out, &l.messages, deepCopy); err != nil {
		return nil, fmt.Errorf("copy history: %w", err)
	}
	return out, nil
}

// Truncate keeps the first index entries. Out-of-range values are clamped.
func (l *Log) Truncate(index int) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	index = lo.Clamp(index, 0, len(l.messages))
	clear(l.messages[index:])
	l.messages = l.messages[:index]
	return index
}

// PatchLastSystem applies patch to the newest system message, but only when
// it is also the newest message overall. A trailing user message means two
// user entries landed back to back; the patch is skipped with
// ErrNotLastSystem so it never lands on the wrong message.
func (l *Log) PatchLastSystem(patch func(*domain.Message)) (int, domain.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, index, found := lo.FindLastIndexOf(l.messages, func(m domain.Message) bool {
		return m.IsSystem()
	})
	if !found || index != len(l.messages)-1 {
		return -1, domain.Message{}, ErrNotLastSystem
	}

	patched, err := cloneMessage(l.messages[index])
	if err != nil {
		return -1, domain.Message{}, err
	}
	patch(&patched)

	updated, err := cloneMessage(patched)
	if err != nil {
		return -1, domain.Message{}, err
	}
	l.messages[index] = patched
	return index, updated, nil
}

func cloneMessage(message domain.Message) (domain.Message, error) {
	var out domain.Message
	if err := copier.CopyWithOption(&out, &message, deepCopy); err != nil {
		return domain.Message{}, fmt.Errorf("copy message: %w", err)
	}
	return out, nil
}
