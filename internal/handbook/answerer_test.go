package handbook

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sha1n/mcp-handbook-server/internal/domain"
)

func scoredChunk(id string, start, end int, content string) domain.ScoredChunk {
	return domain.ScoredChunk{
		ChunkID: id,
		Chunk:   domain.Chunk{ChunkID: id, PageStart: start, PageEnd: end, Content: content},
	}
}

func TestAnswerer_FallbackWithoutChunks(t *testing.T) {
	completer := &recordingCompleter{}
	a := NewAnswerer(completer)

	answer, err := a.Answer(context.Background(), "How much leave?", nil)
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if answer != FallbackAnswer {
		t.Errorf("Expected fallback answer, got %q", answer)
	}
	if len(completer.answers()) != 0 {
		t.Error("The model must not be called without context")
	}
}

func TestAnswerer_ReturnsModelAnswerVerbatim(t *testing.T) {
	completer := &recordingCompleter{
		answer: func(string) (string, error) { return "  Sixteen weeks (Pages 12-13).\n", nil },
	}
	a := NewAnswerer(completer)

	answer, err := a.Answer(context.Background(), "How long is maternity leave?", []domain.ScoredChunk{
		scoredChunk("c1", 12, 13, "Maternity leave is 16 weeks."),
	})
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if answer != "  Sixteen weeks (Pages 12-13).\n" {
		t.Errorf("Answer was altered: %q", answer)
	}

	prompts := completer.answers()
	if len(prompts) != 1 {
		t.Fatalf("Expected one model call, got %d", len(prompts))
	}
	want := "Question:\nHow long is maternity leave?\n\nHandbook context:\n[Chunk c1 | Pages 12-13]\nMaternity leave is 16 weeks."
	if prompts[0] != want {
		t.Errorf("Unexpected prompt:\n%s", prompts[0])
	}
}

func TestAnswerer_WrapsModelFailure(t *testing.T) {
	boom := errors.New("quota exceeded")
	completer := &recordingCompleter{
		answer: func(string) (string, error) { return "", boom },
	}
	a := NewAnswerer(completer)

	_, err := a.Answer(context.Background(), "q", []domain.ScoredChunk{scoredChunk("c1", 1, 1, "x")})

	var answerErr *domain.AnswerGenerationError
	if !errors.As(err, &answerErr) {
		t.Fatalf("Expected AnswerGenerationError, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Error("Expected the model error to be wrapped")
	}
}

func TestBuildContext(t *testing.T) {
	got := BuildContext([]domain.ScoredChunk{
		scoredChunk("a", 3, 4, "first"),
		scoredChunk("b", 9, 9, "second"),
	})

	want := "[Chunk a | Pages 3-4]\nfirst\n\n---\n\n[Chunk b | Pages 9-9]\nsecond"
	if got != want {
		t.Errorf("BuildContext =\n%s\nwant\n%s", got, want)
	}
}

func TestBuildContext_KeepsRankedOrder(t *testing.T) {
	got := BuildContext([]domain.ScoredChunk{
		scoredChunk("z", 40, 40, "top"),
		scoredChunk("a", 1, 1, "runner-up"),
	})

	if strings.Index(got, "[Chunk z") > strings.Index(got, "[Chunk a") {
		t.Error("Chunks should appear in the given ranked order")
	}
}
