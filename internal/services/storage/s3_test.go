package storage

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/chambalink/backend/internal/apperr"
)

func TestValidateConversationKey(t *testing.T) {
	convID := uuid.New()
	otherID := uuid.New()

	cases := []struct {
		name string
		key  string
		ok   bool
	}{
		{name: "inside own prefix", key: KeyPrefix(convID) + "f3c1.png", ok: true},
		{name: "nested inside own prefix", key: KeyPrefix(convID) + "msg-1/f3c1.png", ok: true},
		{name: "empty key", key: "", ok: false},
		{name: "other conversation", key: KeyPrefix(otherID) + "f3c1.png", ok: false},
		{name: "no prefix at all", key: "f3c1.png", ok: false},
		{name: "traversal inside prefix", key: KeyPrefix(convID) + "../" + otherID.String() + "/f3c1.png", ok: false},
		{name: "bare prefix lookalike", key: "conversation/" + convID.String(), ok: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateConversationKey(convID, tc.key)
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, apperr.CodeInvalidStoragePath, apperr.CodeOf(err))
		})
	}
}

func TestKeyPrefixShape(t *testing.T) {
	convID := uuid.New()
	prefix := KeyPrefix(convID)
	assert.Equal(t, "conversation/"+convID.String()+"/", prefix)
}
