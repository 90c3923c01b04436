package fitting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"quel-fitting-server/modules/common/apperr"
	"quel-fitting-server/modules/common/metrics"
	"quel-fitting-server/modules/common/model"
	"quel-fitting-server/modules/common/observability"
)

// Regeneration types
const (
	RegenerationFeedback    = "feedback"
	RegenerationImprovement = "improvement"
)

const interruptedMessage = "generation interrupted"

// Deps - 파이프라인 협력자. main 에서 주입, 테스트에서는 fake
type Deps struct {
	Gateway   Gateway
	Refs      ReferenceStore
	Records   RecordStore
	Storage   ObjectStorage
	Ledger    Ledger
	Publisher StatusPublisher // optional

	// Pricing overrides the pricing source (redis cache). Defaults to Refs.
	Pricing PricingSource
	Prices  Pricing

	Now   func() time.Time
	NewID func() string
}

// Request - 한 번의 생성 요청
type Request struct {
	UserID           string
	UploadIDs        []string
	RegenerationType string
	ImprovementText  string
}

// Result - 성공 응답 본문
type Result struct {
	GenerationID     string   `json:"generationId"`
	PreviewURL       string   `json:"previewUrl"`
	ThumbnailURL     *string  `json:"thumbnailUrl"`
	CreditsUsed      int      `json:"creditsUsed"`
	CreditsRemaining int      `json:"creditsRemaining"`
	AIEditsApplied   []string `json:"aiEditsApplied"`
}

// QuoteResult - quote 엔드포인트 응답
type QuoteResult struct {
	Quote
	Balance    int  `json:"balance"`
	Affordable bool `json:"affordable"`
}

// Pipeline runs one generation attempt end to end inside the caller's request.
type Pipeline struct {
	deps     Deps
	resolver *Resolver
	records  *RecordManager
}

func New(d Deps) *Pipeline {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}
	if d.Pricing == nil {
		d.Pricing = d.Refs
	}
	if d.Prices == (Pricing{}) {
		d.Prices = DefaultPricing
	}
	return &Pipeline{
		deps:     d,
		resolver: NewResolver(d.Refs, d.Storage),
		records:  NewRecordManager(d.Records, d.Publisher, d.Now),
	}
}

// Run executes the pipeline. Every returned error is an *apperr.Error and
// nothing is debited on any error path. Once the record reaches processing,
// every error path leaves it failed. If Begin itself fails the record stays
// pending: pending has no edge to failed.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	ctx, span := observability.Tracer().Start(ctx, "fitting.generate",
		trace.WithAttributes(attribute.String("user.id", req.UserID), attribute.Int("uploads", len(req.UploadIDs))))
	defer span.End()

	res, err := p.run(ctx, span, req)
	if err != nil {
		kind := apperr.KindOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		metrics.Generations.WithLabelValues(string(model.StatusFailed), string(kind)).Inc()
		return nil, err
	}
	span.SetAttributes(attribute.String("generation.id", res.GenerationID))
	metrics.Generations.WithLabelValues(string(model.StatusCompleted), "").Inc()
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, span trace.Span, req Request) (*Result, error) {
	if err := validateRegeneration(req.RegenerationType); err != nil {
		return nil, err
	}

	// 1. references
	sctx, s := observability.Tracer().Start(ctx, "fitting.resolve")
	refs, err := p.resolver.Resolve(sctx, req.UserID, req.UploadIDs)
	s.End()
	if err != nil {
		return nil, err
	}

	// 2. cost + balance, before any record
	quote := p.cost(ctx, refs.Profile.AITools)
	balance, err := p.balance(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if balance < quote.Total {
		log.Warn().Str("user_id", req.UserID).Int("required", quote.Total).Int("available", balance).
			Msg("💸 [Pipeline] Insufficient credits")
		return nil, apperr.InsufficientCredits(quote.Total, balance)
	}

	// 3. record
	rec, err := p.records.Create(ctx, p.deps.NewID(), req.UserID, inputSnapshot(refs, req, quote), quote.Total)
	if err != nil {
		return nil, apperr.Internal(processingUserMessage, err)
	}
	span.SetAttributes(attribute.String("generation.id", rec.ID))
	if err := p.records.Begin(ctx, rec); err != nil {
		return nil, apperr.Internal(processingUserMessage, err)
	}
	log.Info().Str("generation_id", rec.ID).Str("user_id", req.UserID).Int("cost", quote.Total).
		Msg("🚀 [Pipeline] Generation started")

	strategy := DecideBackground(refs.Profile, refs.Background)

	// 4. prompt
	sctx, s = observability.Tracer().Start(ctx, "fitting.prompt")
	prompt, err := p.synthesizePrompt(sctx, rec, refs, strategy, refinementText(req))
	s.End()
	if err != nil {
		return nil, p.fail(ctx, rec, "", err)
	}

	// 5. advisor
	sctx, s = observability.Tracer().Start(ctx, "fitting.advise")
	advice := p.advise(sctx, rec, refs)
	s.End()

	// 6. synthesis
	sctx, s = observability.Tracer().Start(ctx, "fitting.synthesize",
		trace.WithAttributes(attribute.String("background.strategy", strategy.String())))
	img, attempts := p.synthesize(sctx, rec, composeInstruction(prompt.Text, advice.Guidance), refs, strategy)
	s.SetAttributes(attribute.Int("attempts", attempts))
	s.End()
	if !img.OK() {
		return nil, p.fail(ctx, rec, img.Error, apperr.Provider(synthesisRetryMessage, errors.New(img.Error)))
	}

	// 7. post-processing
	sctx, s = observability.Tracer().Start(ctx, "fitting.postprocess")
	edits := p.postProcess(sctx, rec, img.Image, refs, strategy)
	s.End()

	// 8. settlement. 이미지가 나온 이후에는 클라이언트 취소와 무관하게 기록
	settleCtx := context.WithoutCancel(ctx)
	sctx, s = observability.Tracer().Start(settleCtx, "fitting.settle")
	defer s.End()
	res, err := p.settle(sctx, settlement{
		rec:        rec,
		refs:       refs,
		quote:      quote,
		edits:      edits,
		advice:     advice,
		prompt:     prompt,
		tokens:     prompt.TokensUsed + img.TokensUsed,
		attempts:   attempts,
		strategy:   strategy,
		regenerate: req.RegenerationType,
	})
	if err != nil {
		return nil, p.fail(settleCtx, rec, "", err)
	}
	return res, nil
}

// fail finalizes the record as failed and hands back cause. recordMsg, when
// set, is stored instead of the user-facing message.
func (p *Pipeline) fail(ctx context.Context, rec *Record, recordMsg string, cause error) error {
	ctx = context.WithoutCancel(ctx)
	if rec.Status.IsTerminal() || errors.Is(cause, model.ErrConflict) {
		return cause
	}

	msg := strings.TrimSpace(recordMsg)
	if msg == "" {
		var ae *apperr.Error
		if errors.As(cause, &ae) {
			msg = ae.Message
		}
	}
	if err := p.records.Fail(ctx, rec, msg); err != nil {
		log.Error().Err(err).Str("generation_id", rec.ID).Msg("❌ [Pipeline] Failed to mark generation failed")
	}
	log.Warn().Err(cause).Str("generation_id", rec.ID).Str("kind", string(apperr.KindOf(cause))).
		Msg("🛑 [Pipeline] Generation failed")
	return cause
}

func (p *Pipeline) cost(ctx context.Context, tools model.AITools) Quote {
	overrides, err := p.deps.Pricing.PricingOverrides(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("⚠️  [Pipeline] Pricing overrides unavailable, using defaults")
		overrides = nil
	}
	return Cost(tools, overrides, p.deps.Prices)
}

func (p *Pipeline) balance(ctx context.Context, userID string) (int, error) {
	bal, err := p.deps.Ledger.Balance(ctx, userID)
	if err != nil {
		return 0, lookupError(err, "user not found", "failed to load balance")
	}
	return bal, nil
}

// Quote previews the cost of an attempt with no side effects.
func (p *Pipeline) Quote(ctx context.Context, userID string, uploadIDs []string) (*QuoteResult, error) {
	uploads, err := p.resolver.LoadUploads(ctx, userID, uploadIDs)
	if err != nil {
		return nil, err
	}
	profile, err := p.resolver.LoadProfile(ctx, userID, uploads[0])
	if err != nil {
		return nil, err
	}
	q := p.cost(ctx, profile.AITools)
	bal, err := p.balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &QuoteResult{Quote: q, Balance: bal, Affordable: bal >= q.Total}, nil
}

// Status - 본인 generation 만 조회. 타인 소유는 NotFound
func (p *Pipeline) Status(ctx context.Context, userID, generationID string) (*model.GenerationRecord, error) {
	rec, err := p.deps.Records.GetGeneration(ctx, generationID)
	if err != nil {
		return nil, lookupError(err, "generation not found", "failed to load generation")
	}
	if rec.UserID != userID {
		return nil, apperr.NotFound("generation not found")
	}
	return rec, nil
}

func validateRegeneration(t string) error {
	switch t {
	case "", RegenerationFeedback, RegenerationImprovement:
		return nil
	}
	return apperr.Validation(fmt.Sprintf("invalid regenerationType %q", t))
}

func refinementText(req Request) string {
	return strings.TrimSpace(req.ImprovementText)
}

func composeInstruction(prompt, guidance string) string {
	if guidance == "" {
		return prompt
	}
	return strings.TrimSpace(prompt) + "\n\n" + guidance
}

// inputSnapshot - 재현/감사용 입력 스냅샷
func inputSnapshot(refs *ReferenceSet, req Request, quote Quote) map[string]interface{} {
	snap := map[string]interface{}{
		"uploadIds":     refs.UploadIDs(),
		"poseSource":    refs.PoseSource.String(),
		"customization": customizationSnapshot(refs),
		"breakdown":     quote.Breakdown,
	}
	if req.RegenerationType != "" {
		snap["regenerationType"] = req.RegenerationType
	}
	return snap
}

func customizationSnapshot(refs *ReferenceSet) map[string]interface{} {
	c := refs.Profile
	return map[string]interface{}{
		"aspectRatio":    c.AspectRatio,
		"width":          refs.Width,
		"height":         refs.Height,
		"gender":         c.Gender,
		"ageBucket":      c.AgeBucket,
		"bodySize":       c.BodySize,
		"expression":     c.Expression,
		"hairColor":      c.HairColor,
		"aiTools":        c.AITools,
		"backgroundMode": c.Background.Mode,
	}
}
