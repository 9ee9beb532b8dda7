package knowledge

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/Yinkun-Cheng/RAG/pkg/artifact"
	"github.com/Yinkun-Cheng/RAG/pkg/events"
	"github.com/Yinkun-Cheng/RAG/pkg/jobs"
	"github.com/Yinkun-Cheng/RAG/pkg/lifecycle"
	"github.com/Yinkun-Cheng/RAG/pkg/metrics"
)

var tracer = otel.Tracer("github.com/Yinkun-Cheng/RAG/pkg/knowledge")

// TransitionResult describes a completed status change.
type TransitionResult struct {
	Ref     artifact.Ref     `json:"ref"`
	From    lifecycle.Status `json:"from"`
	To      lifecycle.Status `json:"to"`
	Changed bool             `json:"changed"`
}

// Publish moves an artifact to published and indexes it.
func (s *Service) Publish(ctx context.Context, ref artifact.Ref, actor string) (*TransitionResult, error) {
	return s.Transition(ctx, ref, lifecycle.StatusPublished, actor)
}

// Archive moves an artifact to archived and removes it from the index.
func (s *Service) Archive(ctx context.Context, ref artifact.Ref, actor string) (*TransitionResult, error) {
	return s.Transition(ctx, ref, lifecycle.StatusArchived, actor)
}

// Transition changes the status of an artifact. Entering published embeds
// and indexes the artifact before the status is written; if indexing
// fails the status stays unchanged. Entering archived writes the status and
// drops the index entry together; removal from the external services is
// retried in the background when it fails. Requesting the current status
// is a no-op.
func (s *Service) Transition(ctx context.Context, ref artifact.Ref, to lifecycle.Status, actor string) (res *TransitionResult, err error) {
	ctx, span := tracer.Start(ctx, "knowledge.Transition", trace.WithAttributes(
		attribute.String("artifact.kind", string(ref.Kind)),
		attribute.String("artifact.id", ref.ID),
		attribute.String("to", string(to)),
	))
	defer func() {
		metrics.ObserveTransition(string(ref.Kind), string(to), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	unlock, err := s.lock(ctx, ref.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	st, err := s.state(ctx, ref)
	if err != nil {
		return nil, err
	}
	effect, err := s.machine.Validate(st.status, to)
	if err != nil {
		return nil, err
	}
	res = &TransitionResult{Ref: ref, From: st.status, To: to}

	switch effect {
	case lifecycle.EffectNone:
		return res, nil
	case lifecycle.EffectIndexUpsert:
		doc, err := s.sync.LoadDocument(ctx, ref)
		if err != nil {
			return nil, err
		}
		_, err = s.sync.Upsert(ctx, *doc, func(tx *gorm.DB) error {
			return s.artifacts.WithTx(tx).SetStatus(ctx, ref, to, false)
		})
		if err != nil {
			return nil, err
		}
	case lifecycle.EffectIndexRemove:
		err := s.sync.Remove(ctx, ref, jobs.ReasonArchive, actor, func(tx *gorm.DB) error {
			return s.artifacts.WithTx(tx).SetStatus(ctx, ref, to, true)
		})
		if err != nil {
			return nil, err
		}
	}
	res.Changed = true

	typ := events.TypePublished
	if to == lifecycle.StatusArchived {
		typ = events.TypeArchived
	}
	e := event(typ, ref, actor)
	e.From, e.To = string(st.status), string(to)
	s.publish(ctx, e)
	s.logger.Info("artifact status changed", "artifactID", ref.ID, "kind", ref.Kind,
		"from", st.status, "to", to, "actor", actor)
	return res, nil
}
