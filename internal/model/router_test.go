package model

import (
	"context"
	"errors"
	"testing"

	"github.com/veilworks/aoi/internal/config"
	aoiErrors "github.com/veilworks/aoi/internal/errors"
	"github.com/veilworks/aoi/internal/model/contract"
)

type stubProvider struct {
	name    string
	reply   string
	err     error
	embeds  []float32
	called  int
	embErr  error
}

func (s *stubProvider) Generate(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	s.called++
	if s.err != nil {
		return nil, s.err
	}
	return &contract.CompletionResponse{Content: s.reply}, nil
}

func (s *stubProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.embErr != nil {
		return nil, s.embErr
	}
	return s.embeds, nil
}

func (s *stubProvider) Name() string                    { return s.name }
func (s *stubProvider) Type() string                    { return "stub" }
func (s *stubProvider) Health(ctx context.Context) error { return nil }

func newStubRouter(cfg config.ModelsConfig, providers map[string]Provider) *DefaultRouter {
	return &DefaultRouter{cfg: cfg, providers: providers}
}

func TestRouteToRegisteredModel(t *testing.T) {
	primary := &stubProvider{name: "primary", reply: "hello"}
	r := newStubRouter(config.ModelsConfig{}, map[string]Provider{"primary": primary})

	resp, err := r.Route(context.Background(), "primary", contract.CompletionRequest{Model: "primary"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if resp.Content != "hello" {
		t.Fatalf("unexpected content %q", resp.Content)
	}
}

func TestRouteUnknownModelUsesFallback(t *testing.T) {
	fallback := &stubProvider{name: "fallback", reply: "fb"}
	r := newStubRouter(
		config.ModelsConfig{Fallback: "fallback"},
		map[string]Provider{"fallback": fallback},
	)

	resp, err := r.Route(context.Background(), "missing", contract.CompletionRequest{Model: "missing"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if resp.Content != "fb" {
		t.Fatalf("expected fallback reply, got %q", resp.Content)
	}
}

func TestRouteUnknownModelNoFallback(t *testing.T) {
	r := newStubRouter(config.ModelsConfig{}, map[string]Provider{})

	_, err := r.Route(context.Background(), "missing", contract.CompletionRequest{Model: "missing"})
	if !aoiErrors.IsCategory(err, aoiErrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRouteFailoverOnProviderError(t *testing.T) {
	broken := &stubProvider{name: "broken", err: errors.New("upstream down")}
	fallback := &stubProvider{name: "fallback", reply: "recovered"}
	r := newStubRouter(
		config.ModelsConfig{Fallback: "fallback"},
		map[string]Provider{"broken": broken, "fallback": fallback},
	)

	resp, err := r.Route(context.Background(), "broken", contract.CompletionRequest{Model: "broken"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if resp.Content != "recovered" {
		t.Fatalf("expected fallback reply, got %q", resp.Content)
	}
	if broken.called != 1 || fallback.called != 1 {
		t.Fatalf("unexpected call counts: broken=%d fallback=%d", broken.called, fallback.called)
	}
}

func TestRouteFallbackFailureIsInferenceFailure(t *testing.T) {
	broken := &stubProvider{name: "broken", err: errors.New("upstream down")}
	r := newStubRouter(
		config.ModelsConfig{Fallback: "broken"},
		map[string]Provider{"broken": broken},
	)

	_, err := r.Route(context.Background(), "broken", contract.CompletionRequest{Model: "broken"})
	if !aoiErrors.IsCategory(err, aoiErrors.ErrInferenceFailure) {
		t.Fatalf("expected inference failure, got %v", err)
	}
}

func TestRouteEmbeddingSkipsUnsupported(t *testing.T) {
	noEmbed := &stubProvider{name: "chat", embErr: errors.New("embedding not supported by this provider")}
	embedder := &stubProvider{name: "embedder", embeds: []float32{0.1, 0.2}}
	r := newStubRouter(
		config.ModelsConfig{Embedding: "embedder"},
		map[string]Provider{"chat": noEmbed, "embedder": embedder},
	)

	vec, err := r.RouteEmbedding(context.Background(), "chat", "some text")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vec) != 2 {
		t.Fatalf("unexpected vector %v", vec)
	}
}

func TestRouteEmbeddingNoCapableModel(t *testing.T) {
	noEmbed := &stubProvider{name: "chat", embErr: errors.New("embedding not supported by this provider")}
	r := newStubRouter(config.ModelsConfig{}, map[string]Provider{"chat": noEmbed})

	_, err := r.RouteEmbedding(context.Background(), "chat", "some text")
	if !aoiErrors.IsCategory(err, aoiErrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
