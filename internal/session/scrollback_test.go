package session

import (
	"bytes"
	"testing"

	"github.com/QrCommunication/claudenest/internal/models"
)

func chunk(seq uint64, data string) models.OutputChunk {
	return models.OutputChunk{Seq: seq, Data: []byte(data)}
}

func TestScrollbackRetainsWithinBudget(t *testing.T) {
	sb := NewScrollback(10)

	sb.Append(chunk(1, "abc"))
	sb.Append(chunk(2, "def"))

	if got := sb.Bytes(); !bytes.Equal(got, []byte("abcdef")) {
		t.Errorf("expected abcdef, got %q", got)
	}
	if sb.Len() != 6 {
		t.Errorf("expected 6 bytes, got %d", sb.Len())
	}
	if sb.OldestSeq() != 1 {
		t.Errorf("expected oldest seq 1, got %d", sb.OldestSeq())
	}
}

func TestScrollbackEvictsOldestChunks(t *testing.T) {
	sb := NewScrollback(10)

	sb.Append(chunk(1, "aaaa"))
	sb.Append(chunk(2, "bbbb"))
	sb.Append(chunk(3, "cccc"))

	if got := sb.Bytes(); !bytes.Equal(got, []byte("bbbbcccc")) {
		t.Errorf("expected oldest chunk evicted, got %q", got)
	}
	if sb.OldestSeq() != 2 {
		t.Errorf("expected oldest seq 2, got %d", sb.OldestSeq())
	}

	chunks := sb.Chunks()
	if len(chunks) != 2 || chunks[0].Seq != 2 || chunks[1].Seq != 3 {
		t.Errorf("unexpected chunks: %+v", chunks)
	}
}

func TestScrollbackKeepsOversizedChunkAlone(t *testing.T) {
	sb := NewScrollback(4)

	sb.Append(chunk(1, "ab"))
	sb.Append(chunk(2, "toolargeforbudget"))

	if got := sb.Bytes(); !bytes.Equal(got, []byte("toolargeforbudget")) {
		t.Errorf("oversized chunk should survive alone, got %q", got)
	}
}

func TestScrollbackCopiesData(t *testing.T) {
	sb := NewScrollback(10)

	data := []byte("abc")
	sb.Append(models.OutputChunk{Seq: 1, Data: data})
	data[0] = 'x'

	if got := sb.Bytes(); !bytes.Equal(got, []byte("abc")) {
		t.Errorf("buffer should own its bytes, got %q", got)
	}

	out := sb.Chunks()
	out[0].Data[0] = 'y'
	if got := sb.Bytes(); !bytes.Equal(got, []byte("abc")) {
		t.Errorf("returned chunks should be copies, got %q", got)
	}
}
