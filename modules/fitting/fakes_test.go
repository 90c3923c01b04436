package fitting

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"quel-fitting-server/modules/common/model"
)

func pngImage(t *testing.T, w, h int) model.Image {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return model.Image{Data: buf.Bytes(), MimeType: "image/png"}
}

func intPtr(v int) *int { return &v }

// fakeStore implements ReferenceStore, RecordStore and Ledger in memory.
type fakeStore struct {
	mu sync.Mutex

	uploads        map[string]model.Upload
	poses          map[string]model.Pose
	savedModels    map[string]model.SavedModel
	customizations map[string]model.Customization // by upload id
	presets        map[string]model.FormatPreset
	overrides      map[string]int
	tools          map[model.EditKind]string
	balances       map[string]int

	generations map[string]*model.GenerationRecord
	history     map[string][]model.GenerationStatus
	prompts     []model.OptimizedPrompt
	results     []model.GenerationResult
	edits       []model.EditApplication
	entries     []model.CreditTransaction
	debits      int

	failDebit      error
	failAppend     error
	failSaveResult error
	failComplete   error
	failBegin      error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		uploads:        map[string]model.Upload{},
		poses:          map[string]model.Pose{},
		savedModels:    map[string]model.SavedModel{},
		customizations: map[string]model.Customization{},
		presets:        map[string]model.FormatPreset{},
		overrides:      map[string]int{},
		tools: map[model.EditKind]string{
			model.EditRemoveBackground: "tool-rb",
			model.EditAddLogo:          "tool-logo",
			model.EditChangeBackground: "tool-cb",
		},
		balances:    map[string]int{},
		generations: map[string]*model.GenerationRecord{},
		history:     map[string][]model.GenerationStatus{},
	}
}

func (s *fakeStore) PricingOverrides(ctx context.Context) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.overrides))
	for k, v := range s.overrides {
		out[k] = v
	}
	return out, nil
}

func (s *fakeStore) GetUploads(ctx context.Context, ids []string) ([]model.Upload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Upload
	for _, id := range ids {
		if u, ok := s.uploads[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *fakeStore) GetPose(ctx context.Context, id string) (*model.Pose, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.poses[id]
	if !ok {
		return nil, fmt.Errorf("pose %s: %w", id, model.ErrNotFound)
	}
	return &p, nil
}

func (s *fakeStore) GetSavedModel(ctx context.Context, id string) (*model.SavedModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.savedModels[id]
	if !ok {
		return nil, fmt.Errorf("saved model %s: %w", id, model.ErrNotFound)
	}
	return &m, nil
}

func (s *fakeStore) GetCustomization(ctx context.Context, userID, uploadID string) (*model.Customization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customizations[uploadID]
	if !ok || c.UserID != userID {
		return nil, nil
	}
	return &c, nil
}

func (s *fakeStore) GetFormatPreset(ctx context.Context, aspectRatio string) (*model.FormatPreset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.presets[aspectRatio]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *fakeStore) GetToolID(ctx context.Context, kind model.EditKind) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.tools[kind]
	if !ok {
		return "", fmt.Errorf("tool %s: %w", kind, model.ErrNotFound)
	}
	return id, nil
}

func (s *fakeStore) CreateGeneration(ctx context.Context, rec *model.GenerationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.generations[rec.ID]; ok {
		return model.ErrConflict
	}
	cp := *rec
	s.generations[rec.ID] = &cp
	s.history[rec.ID] = []model.GenerationStatus{rec.Status}
	return nil
}

func (s *fakeStore) GetGeneration(ctx context.Context, id string) (*model.GenerationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.generations[id]
	if !ok {
		return nil, fmt.Errorf("generation %s: %w", id, model.ErrNotFound)
	}
	cp := *g
	return &cp, nil
}

func (s *fakeStore) TransitionGeneration(ctx context.Context, id string, from, to model.GenerationStatus, upd model.GenerationUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if to == model.StatusCompleted && s.failComplete != nil {
		return s.failComplete
	}
	if to == model.StatusProcessing && s.failBegin != nil {
		return s.failBegin
	}
	g, ok := s.generations[id]
	if !ok {
		return model.ErrNotFound
	}
	if g.Status != from {
		return model.ErrConflict
	}
	g.Status = to
	if upd.ErrorMessage != nil {
		g.ErrorMessage = upd.ErrorMessage
	}
	if upd.OutputSnapshot != nil {
		g.OutputSnapshot = upd.OutputSnapshot
	}
	s.history[id] = append(s.history[id], to)
	return nil
}

func (s *fakeStore) FailStaleGenerations(ctx context.Context, olderThan time.Time, message string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, g := range s.generations {
		if g.Status == model.StatusProcessing && g.UpdatedAt.Before(olderThan) {
			msg := message
			g.Status = model.StatusFailed
			g.ErrorMessage = &msg
			s.history[id] = append(s.history[id], model.StatusFailed)
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) SavePrompt(ctx context.Context, p *model.OptimizedPrompt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, *p)
	return nil
}

func (s *fakeStore) SaveResult(ctx context.Context, r *model.GenerationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSaveResult != nil {
		return s.failSaveResult
	}
	s.results = append(s.results, *r)
	return nil
}

func (s *fakeStore) SaveEditApplication(ctx context.Context, e *model.EditApplication) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edits = append(s.edits, *e)
	return nil
}

func (s *fakeStore) Balance(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.balances[userID]
	if !ok {
		return 0, fmt.Errorf("user %s: %w", userID, model.ErrNotFound)
	}
	return b, nil
}

func (s *fakeStore) Debit(ctx context.Context, userID string, amount int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDebit != nil {
		return 0, s.failDebit
	}
	b, ok := s.balances[userID]
	if !ok {
		return 0, model.ErrNotFound
	}
	if b < amount {
		return 0, model.ErrInsufficientBalance
	}
	s.balances[userID] = b - amount
	s.debits++
	return b - amount, nil
}

func (s *fakeStore) AppendEntry(ctx context.Context, e *model.CreditTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAppend != nil {
		return s.failAppend
	}
	for _, existing := range s.entries {
		if existing.GenerationID == e.GenerationID {
			return model.ErrConflict
		}
	}
	s.entries = append(s.entries, *e)
	return nil
}

func (s *fakeStore) onlyGeneration(t *testing.T) *model.GenerationRecord {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.generations) != 1 {
		t.Fatalf("expected exactly one generation record, got %d", len(s.generations))
	}
	for _, g := range s.generations {
		cp := *g
		return &cp
	}
	return nil
}

// fakeStorage - path → bytes
type fakeStorage struct {
	mu         sync.Mutex
	objects    map[string][]byte
	uploads    []string
	failUpload func(n int, mime string) error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: map[string][]byte{}}
}

func (f *fakeStorage) UploadImage(ctx context.Context, ownerID, attemptID string, data []byte, mimeType string) (*model.StoredObject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.uploads)
	if f.failUpload != nil {
		if err := f.failUpload(n, mimeType); err != nil {
			return nil, err
		}
	}
	path := fmt.Sprintf("generated/%s/%s/%d", ownerID, attemptID, n)
	f.objects[path] = data
	f.uploads = append(f.uploads, path)
	return &model.StoredObject{Path: path, PublicURL: "https://cdn.test/" + path}, nil
}

func (f *fakeStorage) Download(ctx context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[path]
	if !ok {
		return nil, fmt.Errorf("download %s: not found", path)
	}
	return data, nil
}

// fakeGateway records every call and returns scripted results.
type fakeGateway struct {
	mu sync.Mutex

	output model.Image

	optimizeCalls  []model.PromptBrief
	synthCalls     []model.SynthesisRequest
	editCalls      []string
	blendCalls     [][]model.Image
	describeCalls  int
	assessCalls    int
	optimizeResult *model.OptimizeResult
	synthResults   []model.ImageResult // consumed in order; empty → success
	editFail       map[string]bool     // instruction substring → fail
	blendFail      map[string]bool
	compat         *model.Compatibility
	description    string
}

func newFakeGateway(t *testing.T) *fakeGateway {
	return &fakeGateway{output: pngImage(t, 64, 80), editFail: map[string]bool{}, blendFail: map[string]bool{}}
}

func (g *fakeGateway) OptimizePrompt(ctx context.Context, brief model.PromptBrief) model.OptimizeResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.optimizeCalls = append(g.optimizeCalls, brief)
	if g.optimizeResult != nil {
		return *g.optimizeResult
	}
	return model.OptimizeResult{Success: true, Prompt: "A model wearing the garment in the reference pose.", Model: "test-text", TokensUsed: 40}
}

func (g *fakeGateway) SynthesizeImage(ctx context.Context, req model.SynthesisRequest) model.ImageResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.synthCalls = append(g.synthCalls, req)
	if len(g.synthResults) > 0 {
		r := g.synthResults[0]
		g.synthResults = g.synthResults[1:]
		return r
	}
	return model.ImageResult{Success: true, Image: g.output, TokensUsed: 100}
}

func (g *fakeGateway) ApplyEdit(ctx context.Context, instruction string, img model.Image) model.ImageResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.editCalls = append(g.editCalls, instruction)
	for key := range g.editFail {
		if bytes.Contains([]byte(instruction), []byte(key)) {
			return model.ImageResult{Error: "edit failed"}
		}
	}
	return model.ImageResult{Success: true, Image: g.output}
}

func (g *fakeGateway) BlendImages(ctx context.Context, instruction string, images []model.Image) model.ImageResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.blendCalls = append(g.blendCalls, images)
	for key := range g.blendFail {
		if bytes.Contains([]byte(instruction), []byte(key)) {
			return model.ImageResult{Error: "blend failed"}
		}
	}
	return model.ImageResult{Success: true, Image: g.output}
}

func (g *fakeGateway) DescribePose(ctx context.Context, pose model.Image, category, gender string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.describeCalls++
	return g.description
}

func (g *fakeGateway) AssessCompatibility(ctx context.Context, garment, pose model.Image, category, pieceType, poseDescription string) *model.Compatibility {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.assessCalls++
	return g.compat
}

type fakePublisher struct {
	mu     sync.Mutex
	events []model.StatusEvent
}

func (p *fakePublisher) PublishStatus(ctx context.Context, evt model.StatusEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

// fixture - 사용자 1명, upload 1개, 카탈로그 포즈 1개
type fixture struct {
	store     *fakeStore
	storage   *fakeStorage
	gateway   *fakeGateway
	publisher *fakePublisher
	pipeline  *Pipeline
	ids       int
}

const (
	testUser   = "user-1"
	testUpload = "upload-1"
	testPose   = "pose-1"
)

func newFixture(t *testing.T, balance int) *fixture {
	t.Helper()
	f := &fixture{
		store:     newFakeStore(),
		storage:   newFakeStorage(),
		gateway:   newFakeGateway(t),
		publisher: &fakePublisher{},
	}

	garment := pngImage(t, 32, 32)
	pose := pngImage(t, 24, 40)
	f.storage.objects["uploads/garment-1.png"] = garment.Data
	f.storage.objects["poses/pose-1.png"] = pose.Data

	f.store.balances[testUser] = balance
	f.store.uploads[testUpload] = model.Upload{
		ID: testUpload, UserID: testUser, StoragePath: "uploads/garment-1.png", MimeType: "image/png",
		Category: "top", PieceType: "shirt", SelectedPoseID: testPose,
	}
	f.store.poses[testPose] = model.Pose{
		ID: testPose, StoragePath: "poses/pose-1.png", MimeType: "image/png",
		Gender: "female", AgeRange: "adult", Category: "standing", Description: "standing, arms relaxed",
	}
	f.build()
	return f
}

func (f *fixture) build() {
	f.pipeline = New(Deps{
		Gateway:   f.gateway,
		Refs:      f.store,
		Records:   f.store,
		Storage:   f.storage,
		Ledger:    f.store,
		Publisher: f.publisher,
		Now:       func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) },
		NewID: func() string {
			f.ids++
			return fmt.Sprintf("id-%d", f.ids)
		},
	})
}

func (f *fixture) customize(t *testing.T, c model.Customization) {
	t.Helper()
	c.UserID = testUser
	c.UploadID = testUpload
	f.store.customizations[testUpload] = c
}

func (f *fixture) run(t *testing.T) (*Result, error) {
	t.Helper()
	return f.pipeline.Run(context.Background(), Request{UserID: testUser, UploadIDs: []string{testUpload}})
}
