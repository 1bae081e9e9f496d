package hub

import (
	"reflect"
	"sort"
	"testing"

	"github.com/google/uuid"
)

func TestTopicBuilders(t *testing.T) {
	user := uuid.MustParse("00000000-0000-0000-0000-000000000001")

	if got := UserTopic(user); got != "user:00000000-0000-0000-0000-000000000001" {
		t.Errorf("unexpected user topic %q", got)
	}
	if got := CategoryTopic("security"); got != "category:security" {
		t.Errorf("unexpected category topic %q", got)
	}
	if got := TypeTopic("push"); got != "type:push" {
		t.Errorf("unexpected type topic %q", got)
	}
}

func TestRouterJoinLeaveIdempotent(t *testing.T) {
	r := NewRouter()

	r.Join("c1", "category:updates")
	r.Join("c1", "category:updates")

	if got := r.Members("category:updates"); len(got) != 1 {
		t.Errorf("expected 1 member after duplicate join, got %v", got)
	}

	r.Leave("c1", "category:updates")
	r.Leave("c1", "category:updates")
	r.Leave("c1", "category:never-joined")

	if got := r.Members("category:updates"); len(got) != 0 {
		t.Errorf("expected no members after leave, got %v", got)
	}
	if got := r.Topics("c1"); len(got) != 0 {
		t.Errorf("expected no topics for connection, got %v", got)
	}
}

func TestRouterDrop(t *testing.T) {
	r := NewRouter()

	r.Join("c1", "user:abc", "category:updates", "type:push")
	r.Join("c2", "category:updates")

	r.Drop("c1")

	if got := r.Topics("c1"); len(got) != 0 {
		t.Errorf("dropped connection still holds topics %v", got)
	}
	if got := r.Members("category:updates"); !reflect.DeepEqual(got, []string{"c2"}) {
		t.Errorf("expected c2 to remain in category:updates, got %v", got)
	}
	if got := r.Members("user:abc"); len(got) != 0 {
		t.Errorf("expected user topic emptied, got %v", got)
	}
}

func TestRouterTopicsSnapshot(t *testing.T) {
	r := NewRouter()
	r.Join("c1", "type:push", "category:security", "category:updates")

	got := r.Topics("c1")
	want := []string{"category:security", "category:updates", "type:push"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestHubSubscribeNeverGrantsUserTopics(t *testing.T) {
	h := newTestHub(t)
	owner := uuid.New()
	stranger := uuid.New()

	conn := newFakeConn("c1", owner)
	h.Connect(conn, nil)

	// A subscribe request can only reach type: and category: topics, so a
	// forged "type" carrying another user's id still lands in type:.
	h.Subscribe("c1", []string{"push"}, []string{"updates"})

	topics := h.TopicsFor("c1")
	sort.Strings(topics)

	for _, topic := range topics {
		if topic == UserTopic(stranger) {
			t.Fatalf("connection acquired another user's topic: %v", topics)
		}
	}

	want := []string{CategoryTopic("updates"), TypeTopic("push"), UserTopic(owner)}
	sort.Strings(want)
	if !reflect.DeepEqual(topics, want) {
		t.Errorf("expected %v, got %v", want, topics)
	}
}

func TestHubUnsubscribeCannotShedUserTopic(t *testing.T) {
	h := newTestHub(t)
	owner := uuid.New()

	h.Connect(newFakeConn("c1", owner), nil)
	h.Unsubscribe("c1", []string{"push"}, []string{"updates", "security"})

	topics := h.TopicsFor("c1")
	if len(topics) != 1 || topics[0] != UserTopic(owner) {
		t.Errorf("user topic must survive unsubscribe, got %v", topics)
	}
}
