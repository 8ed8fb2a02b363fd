// Package archive persists finished session transcripts into a local
// vector collection so past conversations stay searchable.
package archive

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/philippgille/chromem-go"

	aoiErrors "github.com/veilworks/aoi/internal/errors"
	"github.com/veilworks/aoi/internal/model"
	"github.com/veilworks/aoi/internal/store"
)

// Archiver commits one session transcript and returns the archive record ID.
type Archiver interface {
	Archive(ctx context.Context, sessionID, room string, turns []store.Turn, meta map[string]string) (string, error)
}

// ChromemArchiver embeds transcripts through the model router and writes
// them to an on-disk chromem collection.
type ChromemArchiver struct {
	collection *chromem.Collection
}

func NewChromemArchiver(path, collectionName string, router model.Router, embeddingModel string) (*ChromemArchiver, error) {
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, aoiErrors.WrapAs(err, aoiErrors.ErrStoreUnavailable, "open archive db")
	}

	embed := func(ctx context.Context, text string) ([]float32, error) {
		return router.RouteEmbedding(ctx, embeddingModel, text)
	}

	collection, err := db.GetOrCreateCollection(collectionName, nil, embed)
	if err != nil {
		return nil, aoiErrors.WrapAs(err, aoiErrors.ErrStoreUnavailable, "open archive collection")
	}

	return &ChromemArchiver{collection: collection}, nil
}

func (a *ChromemArchiver) Archive(ctx context.Context, sessionID, room string, turns []store.Turn, meta map[string]string) (string, error) {
	if len(turns) == 0 {
		return "", aoiErrors.InvalidInput("nothing to archive")
	}

	metadata := map[string]string{
		"session_id":  sessionID,
		"room":        room,
		"archived_at": time.Now().UTC().Format(time.RFC3339),
		"turns":       fmt.Sprintf("%d", len(turns)),
	}
	for k, v := range meta {
		metadata[k] = v
	}

	id := "session-" + sessionID
	doc := chromem.Document{
		ID:       id,
		Metadata: metadata,
		Content:  RenderTranscript(turns),
	}

	if err := a.collection.AddDocument(ctx, doc); err != nil {
		return "", aoiErrors.WrapAs(err, aoiErrors.ErrStoreUnavailable, "write archive document")
	}
	return id, nil
}

// RenderTranscript flattens turns into a readable transcript, oldest first.
func RenderTranscript(turns []store.Turn) string {
	ordered := make([]store.Turn, len(turns))
	copy(ordered, turns)
	store.SortTurns(ordered)

	var b strings.Builder
	for _, turn := range ordered {
		tag := string(turn.Role)
		if turn.Mode != "" {
			tag = fmt.Sprintf("%s/%s", turn.Role, turn.Mode)
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", turn.Timestamp.UTC().Format(time.RFC3339), tag, turn.Message)
	}
	return b.String()
}

// NullArchiver drops transcripts, for deployments with archival disabled.
type NullArchiver struct{}

func (NullArchiver) Archive(ctx context.Context, sessionID, room string, turns []store.Turn, meta map[string]string) (string, error) {
	return "", nil
}
