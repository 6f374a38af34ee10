package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodecs_CoverWireKinds(t *testing.T) {
	wire := []Kind{KindUserJoin, KindUserLeave, KindTextMessage, KindImageMessage, KindTyping, KindUserList}

	assert.Len(t, codecs, len(wire))
	for _, k := range wire {
		_, ok := codecs[k]
		assert.True(t, ok, "no codec for %s", k)
	}
	_, ok := codecs[KindConnectionStatus]
	assert.False(t, ok)
}

func TestCodec_RejectsMismatchedEvent(t *testing.T) {
	_, err := codecs[KindUserJoin].encode(UserLeft{})
	assert.ErrorIs(t, err, ErrNotSerializable)
}

func TestScaledSize(t *testing.T) {
	tests := []struct {
		name         string
		w, h, max    int
		wantW, wantH int
	}{
		{"wide landscape", 2000, 1000, 800, 800, 400},
		{"within bound", 640, 480, 800, 640, 480},
		{"exactly max", 800, 600, 800, 800, 600},
		{"rounds half up", 1000, 333, 800, 800, 266},
		{"rounds up", 1600, 1001, 800, 800, 501},
		{"tall portrait", 1200, 4000, 800, 800, 2667},
		{"thin strip", 5000, 1, 800, 800, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := scaledSize(tt.w, tt.h, tt.max)
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
		})
	}
}
