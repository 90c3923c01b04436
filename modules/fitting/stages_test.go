package fitting

import (
	"context"
	"strings"
	"testing"

	"quel-fitting-server/modules/common/apperr"
	"quel-fitting-server/modules/common/model"
)

func TestParsePoseSelection(t *testing.T) {
	uploads := []string{"u1", "u2"}
	tests := []struct {
		raw     string
		want    PoseSource
		wantErr bool
	}{
		{raw: "pose-9", want: CatalogPose{ID: "pose-9"}},
		{raw: " original:u2 ", want: OriginalUploadPose{UploadID: "u2"}},
		{raw: "saved:m-1", want: SavedModelPose{ModelID: "m-1"}},
		{raw: "", wantErr: true},
		{raw: "original:u3", wantErr: true},
		{raw: "original:", wantErr: true},
		{raw: "saved:", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParsePoseSelection(tt.raw, uploads)
		if tt.wantErr {
			if apperr.KindOf(err) != apperr.KindValidation {
				t.Errorf("%q: err = %v, want validation", tt.raw, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("%q: got %v, %v; want %v", tt.raw, got, err, tt.want)
		}
		if got.String() != strings.TrimSpace(tt.raw) {
			t.Errorf("%q: String() = %q", tt.raw, got.String())
		}
	}
}

func TestCost(t *testing.T) {
	tests := []struct {
		name      string
		tools     model.AITools
		overrides map[string]int
		want      int
	}{
		{"base only", model.AITools{}, nil, 2},
		{"all tools", model.AITools{RemoveBackground: true, ChangeBackground: true, AddLogo: true}, nil, 5},
		{"override base", model.AITools{AddLogo: true}, map[string]int{"generation": 4}, 5},
		{"override tool", model.AITools{ChangeBackground: true}, map[string]int{"change_background": 0}, 2},
		{"negative ignored", model.AITools{}, map[string]int{"generation": -1}, 2},
		{"unused override", model.AITools{}, map[string]int{"add_logo": 9}, 2},
	}
	for _, tt := range tests {
		q := Cost(tt.tools, tt.overrides, DefaultPricing)
		if q.Total != tt.want {
			t.Errorf("%s: total = %d, want %d (%v)", tt.name, q.Total, tt.want, q.Breakdown)
		}
		sum := 0
		for _, v := range q.Breakdown {
			sum += v
		}
		if sum != q.Total {
			t.Errorf("%s: breakdown %v does not sum to %d", tt.name, q.Breakdown, q.Total)
		}
	}
}

func TestIsMinor(t *testing.T) {
	tests := []struct {
		ac   AgeContext
		want bool
	}{
		{AgeContext{AgeMin: intPtr(10)}, true},
		{AgeContext{AgeMin: intPtr(18)}, false},
		{AgeContext{AgeBucket: "13-17"}, true},
		{AgeContext{AgeBucket: "Teen"}, true},
		{AgeContext{AgeBucket: "14-16"}, true},
		{AgeContext{AgeBucket: "18-24"}, false},
		{AgeContext{AgeBucket: "adult"}, false},
		{AgeContext{}, false},
	}
	for _, tt := range tests {
		if got := IsMinor(tt.ac); got != tt.want {
			t.Errorf("IsMinor(%+v) = %v, want %v", tt.ac, got, tt.want)
		}
	}
}

func TestMinorTemplate(t *testing.T) {
	one := MinorTemplate(1, 896, 1152, "Keep the background.")
	if !strings.Contains(one, "896x1152") || !strings.Contains(one, "the garment shown") {
		t.Fatalf("single garment template = %q", one)
	}
	two := MinorTemplate(2, 1024, 1024, "")
	if !strings.Contains(two, "the 2 garments") {
		t.Fatalf("multi garment template = %q", two)
	}
}

func TestBuildBrief(t *testing.T) {
	refs := &ReferenceSet{
		Uploads: []model.Upload{
			{ID: "u1", Category: "top", PieceType: "shirt"},
			{ID: "u2", Category: "bottom", PieceType: "pants"},
		},
		Garments: []model.Image{{Data: []byte{1}}, {Data: []byte{2}}},
		PoseMeta: PoseMeta{Gender: "female", AgeRange: "adult", Category: "standing"},
		Profile: model.Customization{
			Gender: "female", BodySize: "slim", AspectRatio: "3:4",
			AITools: model.AITools{RemoveBackground: true},
		},
		Width: 896, Height: 1152,
	}

	b := BuildBrief(refs, NoBackground, "more contrast")
	if b.GarmentCount != 2 || len(b.GarmentPieceTypes) != 2 {
		t.Fatalf("garments = %d %v", b.GarmentCount, b.GarmentPieceTypes)
	}
	if !strings.Contains(b.PlacementHint, "outfit") {
		t.Fatalf("placement hint = %q", b.PlacementHint)
	}
	if b.HeightCm != 170 || b.WeightKg != 50 {
		t.Fatalf("height/weight = %d/%d", b.HeightCm, b.WeightKg)
	}
	if b.BackgroundMode != briefBackgroundDisabled {
		t.Fatalf("background mode = %q", b.BackgroundMode)
	}
	if b.Refinement != "more contrast" {
		t.Fatalf("refinement = %q", b.Refinement)
	}
}

func TestDecideBackground(t *testing.T) {
	img := &model.Image{Data: []byte{1}}
	profile := func(enabled bool, mode string, integrated bool) model.Customization {
		return model.Customization{
			AITools:    model.AITools{ChangeBackground: enabled},
			Background: model.BackgroundSelection{Mode: mode, Integrated: integrated},
		}
	}

	tests := []struct {
		name string
		p    model.Customization
		bg   *model.Image
		want BackgroundStrategy
	}{
		{"disabled", profile(false, model.BackgroundPreset, true), img, NoBackground},
		{"original mode", profile(true, model.BackgroundOriginal, true), img, NoBackground},
		{"integrated preset", profile(true, model.BackgroundPreset, true), img, Integrated},
		{"integrated without image", profile(true, model.BackgroundPreset, true), nil, DeferredEdit},
		{"description only", profile(true, model.BackgroundAIDescription, true), img, DeferredEdit},
		{"not integrated", profile(true, model.BackgroundCustom, false), img, DeferredEdit},
	}
	for _, tt := range tests {
		if got := DecideBackground(tt.p, tt.bg); got != tt.want {
			t.Errorf("%s: got %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestGuidanceSentence(t *testing.T) {
	if GuidanceSentence(nil) != genericGuidance {
		t.Fatal("nil assessment should use generic guidance")
	}
	low := GuidanceSentence(&model.Compatibility{Score: 69, RecommendAdjustment: "turn slightly left"})
	if !strings.Contains(low, "moderate compatibility") || !strings.Contains(low, "turn slightly left") {
		t.Fatalf("low = %q", low)
	}
	high := GuidanceSentence(&model.Compatibility{Score: 70})
	if !strings.Contains(high, "high compatibility") || !strings.Contains(high, "follow exactly") {
		t.Fatalf("high = %q", high)
	}
}

func TestRecordManager_RejectsIllegalTransitions(t *testing.T) {
	store := newFakeStore()
	m := NewRecordManager(store, nil, nil)
	ctx := context.Background()

	rec, err := m.Create(ctx, "g1", "u1", nil, 2)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.Complete(ctx, rec, nil); err == nil {
		t.Fatal("pending -> completed must be rejected")
	}
	if err := m.Begin(ctx, rec); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := m.Fail(ctx, rec, ""); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if err := m.Begin(ctx, rec); err == nil {
		t.Fatal("failed is terminal")
	}

	g := store.generations["g1"]
	if g.ErrorMessage == nil || *g.ErrorMessage != defaultFailureMessage {
		t.Fatalf("error message = %v", g.ErrorMessage)
	}
	assertHistory(t, store, "g1", model.StatusPending, model.StatusProcessing, model.StatusFailed)
}

func TestRecordManager_ConflictingWriter(t *testing.T) {
	store := newFakeStore()
	m := NewRecordManager(store, nil, nil)
	ctx := context.Background()

	rec, _ := m.Create(ctx, "g1", "u1", nil, 2)
	_ = m.Begin(ctx, rec)
	// another writer finalized the record first
	store.generations["g1"].Status = model.StatusFailed

	if err := m.Complete(ctx, rec, map[string]interface{}{"x": 1}); err == nil {
		t.Fatal("conditional update must fail when the stored status moved")
	}
	if rec.Status != model.StatusProcessing {
		t.Fatalf("handle status = %s, want processing", rec.Status)
	}
}
