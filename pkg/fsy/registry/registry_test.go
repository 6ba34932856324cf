package registry

import "testing"

func testRegistry() *Registry {
	nodes := []NodeData{
		{Name: "alice", ID: "node-alice"},
		{Name: "bob", ID: "node-bob"},
	}
	groups := []TargetGroup{
		{
			Name: "photos",
			Path: "/srv/photos",
			Targets: []Target{
				{Mode: Pull, NodeName: "alice"},
			},
		},
		{
			Name: "docs",
			Path: "/srv/docs",
			Targets: []Target{
				{Mode: Push, NodeName: "alice"},
				{Mode: PushPull, NodeName: "bob"},
			},
		},
	}
	return New(groups, nodes)
}

func TestRegistry_GroupByNameRespectsSide(t *testing.T) {
	r := testRegistry()

	if _, ok := r.GroupByName("photos", SidePush); ok {
		t.Fatalf("photos has no push target, should not be found on SidePush")
	}
	if _, ok := r.GroupByName("photos", SidePull); !ok {
		t.Fatalf("photos has a pull target, expected to be found on SidePull")
	}
	if _, ok := r.GroupByName("docs", SidePush); !ok {
		t.Fatalf("docs has a push target, expected to be found on SidePush")
	}
	if _, ok := r.GroupByName("docs", SidePull); !ok {
		t.Fatalf("docs has a push-pull target, expected to be found on SidePull too")
	}
}

func TestRegistry_PushPullGroups(t *testing.T) {
	r := testRegistry()

	push := r.PushGroups()
	if len(push) != 1 || push[0].Name != "docs" {
		t.Fatalf("expected only docs in push groups, got %+v", push)
	}

	pull := r.PullGroups()
	if len(pull) != 2 {
		t.Fatalf("expected both groups in pull groups, got %+v", pull)
	}
}

func TestRegistry_GroupContainsNode(t *testing.T) {
	r := testRegistry()
	g, ok := r.GroupByName("photos", SidePull)
	if !ok {
		t.Fatalf("expected photos group")
	}
	if !r.GroupContainsNode(g, "node-alice") {
		t.Fatalf("expected node-alice to be authorized for photos")
	}
	if r.GroupContainsNode(g, "node-bob") {
		t.Fatalf("did not expect node-bob to be authorized for photos")
	}
}

func TestRegistry_TargetNodeIDs(t *testing.T) {
	r := testRegistry()
	g, ok := r.GroupByName("docs", SidePush)
	if !ok {
		t.Fatalf("expected docs group")
	}
	ids := r.TargetNodeIDs(g, SidePush)
	if _, ok := ids["node-alice"]; !ok {
		t.Fatalf("expected node-alice among push targets of docs, got %v", ids)
	}
	if _, ok := ids["node-bob"]; !ok {
		t.Fatalf("expected node-bob (push-pull) among push targets of docs, got %v", ids)
	}
}

func TestRegistry_GroupsForPath(t *testing.T) {
	r := testRegistry()
	groups := r.GroupsForPath("/srv/docs", SidePush)
	if len(groups) != 1 || groups[0].Name != "docs" {
		t.Fatalf("expected docs for /srv/docs, got %+v", groups)
	}
	if groups := r.GroupsForPath("/does/not/exist", SidePush); len(groups) != 0 {
		t.Fatalf("expected no groups for unknown path, got %+v", groups)
	}
}

func TestValidate_AcceptsWellFormedConfig(t *testing.T) {
	nodes := []NodeData{{Name: "alice", ID: "node-alice"}}
	groups := []TargetGroup{
		{Name: "docs", Path: "/srv/docs", Targets: []Target{{Mode: Push, NodeName: "alice"}}},
	}
	if err := Validate(groups, nodes); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidate_RejectsDuplicateGroupName(t *testing.T) {
	nodes := []NodeData{{Name: "alice", ID: "node-alice"}}
	groups := []TargetGroup{
		{Name: "docs", Path: "/srv/a", Targets: []Target{{Mode: Push, NodeName: "alice"}}},
		{Name: "docs", Path: "/srv/b", Targets: []Target{{Mode: Pull, NodeName: "alice"}}},
	}
	if err := Validate(groups, nodes); err == nil {
		t.Fatalf("expected an error for duplicate group names")
	}
}

func TestValidate_RejectsDuplicateGroupPath(t *testing.T) {
	nodes := []NodeData{{Name: "alice", ID: "node-alice"}}
	groups := []TargetGroup{
		{Name: "docs", Path: "/srv/shared", Targets: []Target{{Mode: Push, NodeName: "alice"}}},
		{Name: "photos", Path: "/srv/shared", Targets: []Target{{Mode: Pull, NodeName: "alice"}}},
	}
	if err := Validate(groups, nodes); err == nil {
		t.Fatalf("expected an error for duplicate group paths")
	}
}

func TestValidate_RejectsEmptyTargetList(t *testing.T) {
	groups := []TargetGroup{{Name: "docs", Path: "/srv/docs"}}
	if err := Validate(groups, nil); err == nil {
		t.Fatalf("expected an error for a group with no targets")
	}
}

func TestValidate_RejectsUnresolvedNodeName(t *testing.T) {
	nodes := []NodeData{{Name: "alice", ID: "node-alice"}}
	groups := []TargetGroup{
		{Name: "docs", Path: "/srv/docs", Targets: []Target{{Mode: Push, NodeName: "ghost"}}},
	}
	if err := Validate(groups, nodes); err == nil {
		t.Fatalf("expected an error for a target naming an undefined node")
	}
}

func TestValidate_RejectsDuplicateNodeName(t *testing.T) {
	nodes := []NodeData{{Name: "alice", ID: "node-1"}, {Name: "alice", ID: "node-2"}}
	if err := Validate(nil, nodes); err == nil {
		t.Fatalf("expected an error for duplicate node names")
	}
}
