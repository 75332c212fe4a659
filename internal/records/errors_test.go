package records

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKind_String(t *testing.T) {
	t.Parallel()

	cases := map[Kind]string{
		Unknown:             "unknown",
		MalformedInput:      "malformed_input",
		RecordParseError:    "record_parse_error",
		ChunkTimeout:        "chunk_timeout",
		InternalConsistency: "internal_consistency",
		SourceFailure:       "source_failure",
	}
	for k, want := range cases {
		assert.Equal(t, want, k.String())
	}
}

func TestKindOf_ThroughWrapping(t *testing.T) {
	t.Parallel()

	base := &Error{Kind: ChunkTimeout, Seq: 7, Offset: 100, Index: 3}
	wrapped := fmt.Errorf("worker: %w", base)

	assert.Equal(t, ChunkTimeout, KindOf(wrapped))
	assert.True(t, errors.Is(wrapped, &Error{Kind: ChunkTimeout}))
	assert.False(t, errors.Is(wrapped, &Error{Kind: MalformedInput}))
	assert.Equal(t, Unknown, KindOf(errors.New("plain")))
}

func TestIsFatal(t *testing.T) {
	t.Parallel()

	assert.False(t, IsFatal(nil))
	assert.False(t, IsFatal(New(RecordParseError, 0, "bare quote")))
	assert.False(t, IsFatal(New(MalformedInput, 0, "eof in quote")))
	assert.False(t, IsFatal(New(ChunkTimeout, 0, "")))
	assert.True(t, IsFatal(New(InternalConsistency, 0, "duplicate")))
	assert.True(t, IsFatal(Wrap(SourceFailure, 0, context.DeadlineExceeded)))
	assert.True(t, IsFatal(errors.New("unclassified")))
}

func TestError_Message(t *testing.T) {
	t.Parallel()

	e := &Error{Kind: MalformedInput, Seq: 2, Offset: 42, Index: 5, Msg: "unterminated quoted field"}
	assert.Equal(t, "malformed_input: seq=2 offset=42 record=5: unterminated quoted field", e.Error())

	e2 := Wrap(SourceFailure, 1, errors.New("read failed"))
	assert.Equal(t, "source_failure: seq=1: read failed", e2.Error())
	assert.ErrorIs(t, e2, e2.Err)
}
