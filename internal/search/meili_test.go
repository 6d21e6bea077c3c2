package search

import (
	"testing"

	"flowdesk/api/internal/store"
)

func TestBuildSearchRequestsScopeAccess(t *testing.T) {
	reqs := buildSearchRequests(Query{Text: "roadmap", UserID: "usr_1"})
	if len(reqs) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(reqs))
	}

	for _, req := range reqs {
		switch req.IndexUID {
		case idxDeals:
			// Deals are workspace-global.
			if req.Filter != nil {
				t.Errorf("deal request must not be filtered, got %v", req.Filter)
			}
		case idxDocuments, idxComments:
			filter, ok := req.Filter.(string)
			if !ok || filter != `userIds = "usr_1"` {
				t.Errorf("expected access filter on %s, got %v", req.IndexUID, req.Filter)
			}
		default:
			t.Errorf("unexpected index %s", req.IndexUID)
		}
	}
}

func TestBuildSearchRequestsDefaults(t *testing.T) {
	reqs := buildSearchRequests(Query{Text: "acme", FilterType: ResultDeal})
	if len(reqs) != 1 || reqs[0].IndexUID != idxDeals {
		t.Fatalf("expected a single deal request, got %+v", reqs)
	}
	if reqs[0].Limit != 20 {
		t.Errorf("expected default limit 20, got %d", reqs[0].Limit)
	}
}

func TestAccessUserIDs(t *testing.T) {
	doc := store.Document{
		ID:      "doc_1",
		OwnerID: "usr_1",
		Collaborators: []store.Collaborator{
			{UserID: "usr_2", Permission: "editor"},
			{UserID: "usr_3", Permission: "viewer"},
		},
	}

	ids := AccessUserIDs(doc)
	if len(ids) != 3 || ids[0] != "usr_1" || ids[1] != "usr_2" || ids[2] != "usr_3" {
		t.Fatalf("unexpected access list: %v", ids)
	}

	solo := AccessUserIDs(store.Document{ID: "doc_2", OwnerID: "usr_9"})
	if len(solo) != 1 || solo[0] != "usr_9" {
		t.Fatalf("expected owner-only list, got %v", solo)
	}
}
