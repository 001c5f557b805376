package errprocess

import (
	"errors"
	"testing"

	"chat_sync_service/pkg/logger"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	logger.SetNewNop()
	err := Set("connect failed")
	assert.EqualError(t, err, "connect failed")
}

func TestWrap(t *testing.T) {
	logger.SetNewNop()
	base := errors.New("boom")

	err := Wrap(base, "send message")
	assert.ErrorIs(t, err, base)
	assert.EqualError(t, err, "send message: boom")

	assert.NoError(t, Wrap(nil, "nothing"))
}
