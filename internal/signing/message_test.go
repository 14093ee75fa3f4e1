package signing

import "testing"

func TestBuildReceiptMessageExactFormat(t *testing.T) {
	ctx := Context{ChainID: "8453", AppDomain: "cogni.example", SpecVersion: "v1"}
	msg := BuildReceiptMessage(ctx, MessageFields{
		EpochID:        "1",
		UserID:         "u1",
		WorkItemID:     "w1",
		Role:           "author",
		ValuationUnits: "700",
		ArtifactRef:    "pr#42",
		RationaleRef:   "note#1",
	})
	want := "cogni.example:v1:8453\n" +
		"epoch:1\n" +
		"receipt:u1:w1:author\n" +
		"units:700\n" +
		"artifact:pr#42\n" +
		"rationale:note#1"
	if msg != want {
		t.Fatalf("message mismatch:\n got: %q\nwant: %q", msg, want)
	}
}

func TestHashReceiptMessageDeterministic(t *testing.T) {
	ctx := Context{ChainID: "1", AppDomain: "cogni.example", SpecVersion: "v1"}
	fields := MessageFields{EpochID: "7", UserID: "u9", WorkItemID: "w3", Role: "reviewer", ValuationUnits: "10"}
	h1 := HashReceiptMessage(BuildReceiptMessage(ctx, fields))
	h2 := HashReceiptMessage(BuildReceiptMessage(ctx, fields))
	if h1 != h2 {
		t.Fatalf("hash not deterministic: %s vs %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(h1))
	}
}

func TestContextChangesMessage(t *testing.T) {
	fields := MessageFields{EpochID: "1", UserID: "u1", WorkItemID: "w1", Role: "author", ValuationUnits: "5"}
	staging := BuildReceiptMessage(Context{ChainID: "84532", AppDomain: "cogni.example", SpecVersion: "v1"}, fields)
	prod := BuildReceiptMessage(Context{ChainID: "8453", AppDomain: "cogni.example", SpecVersion: "v1"}, fields)
	if staging == prod {
		t.Fatalf("messages must differ across chains")
	}
	if HashReceiptMessage(staging) == HashReceiptMessage(prod) {
		t.Fatalf("hashes must differ across chains")
	}
}
