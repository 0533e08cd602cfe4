package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"baas/internal/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New("chatty", false)
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestComponentField(t *testing.T) {
	log, err := New("debug", true)
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())

	var buf bytes.Buffer
	log.SetOutput(&buf)
	Component(log, "control").Info("switched")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "control", line["component"])
	assert.Equal(t, "switched", line["msg"])
}
