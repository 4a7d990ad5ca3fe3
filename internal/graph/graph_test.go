package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/semantica/internal/apperror"
	"github.com/roach88/semantica/internal/crafting"
	"github.com/roach88/semantica/internal/ident"
	"github.com/roach88/semantica/internal/player"
	"github.com/roach88/semantica/internal/store"
	"github.com/roach88/semantica/internal/testutil"
)

func setup(t *testing.T) (*Graph, *store.Tx, *ident.SequenceGenerator) {
	t.Helper()
	s := testutil.NewStore(t, nil)
	ids := ident.NewSequenceGenerator()
	return New(ids, nil), testutil.Begin(t, s), ids
}

func insert(t *testing.T, g *Graph, tx *store.Tx, d Draft) Node {
	t.Helper()
	n, err := g.Insert(context.Background(), tx, d)
	require.NoError(t, err)
	return n
}

func insertSpell(t *testing.T, tx *store.Tx, ids ident.Generator, name string) crafting.Spell {
	t.Helper()
	sp, err := crafting.InsertSpell(context.Background(), tx, ids.NewID(), crafting.Candidate{Name: name, Emoji: "*"}, nil)
	require.NoError(t, err)
	return sp
}

func TestInsert_Root(t *testing.T) {
	ctx := context.Background()
	g, tx, _ := setup(t)

	root := insert(t, g, tx, Draft{Content: NewContent("Once.\nTwice.")})
	assert.True(t, root.IsRoot())
	assert.Equal(t, 2, root.Content.Len())
	assert.Nil(t, root.CreatedAt, "system nodes carry no creation time")
	assert.Nil(t, root.CreatedBy)
	assert.Empty(t, root.NaturalChild)
	assert.Empty(t, root.ForkChildren)

	second := insert(t, g, tx, Draft{Content: NewContent("Elsewhere.")})
	roots, err := g.Roots(ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, []string{root.NodeID, second.NodeID}, roots)

	def, err := g.DefaultRoot(ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, root.NodeID, def.NodeID)

	require.NoError(t, g.SetDefaultRoot(ctx, tx, second.NodeID))
	def, err = g.DefaultRoot(ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, second.NodeID, def.NodeID)
}

func TestDefaultRoot_Empty(t *testing.T) {
	g, tx, _ := setup(t)

	_, err := g.DefaultRoot(context.Background(), tx)
	assert.True(t, apperror.IsNotFound(err))
}

func TestSetDefaultRoot_RejectsChild(t *testing.T) {
	g, tx, _ := setup(t)
	root := insert(t, g, tx, Draft{Content: NewContent("root")})
	child := insert(t, g, tx, Draft{ParentID: root.NodeID, Content: NewContent("child")})

	err := g.SetDefaultRoot(context.Background(), tx, child.NodeID)
	assert.True(t, apperror.IsValidation(err))
}

func TestInsert_ChildrenAndForks(t *testing.T) {
	ctx := context.Background()
	g, tx, ids := setup(t)
	root := insert(t, g, tx, Draft{Content: NewContent("root")})
	fire := insertSpell(t, tx, ids, "fire")
	u, err := player.NewRegistry(ids).Create(ctx, tx, "alice", root.NodeID)
	require.NoError(t, err)

	natural := insert(t, g, tx, Draft{ParentID: root.NodeID, Content: NewContent("on"), CreatedBy: u.UserID})
	fork1 := insert(t, g, tx, Draft{
		ParentID:  root.NodeID,
		Fork:      &ForkSpec{Position: 1, SpellID: fire.SpellID},
		Content:   NewContent("burning"),
		CreatedBy: u.UserID,
	})
	fork0 := insert(t, g, tx, Draft{
		ParentID: root.NodeID,
		Fork:     &ForkSpec{Position: 0, SpellID: fire.SpellID},
		Content:  NewContent("smoke"),
	})

	require.NotNil(t, natural.Parent)
	assert.Nil(t, natural.Parent.Fork)
	require.NotNil(t, natural.CreatedAt)
	assert.Equal(t, testutil.Epoch, *natural.CreatedAt)
	assert.Equal(t, player.Link{UserID: u.UserID, Name: "alice"}, natural.CreatedBy)

	require.NotNil(t, fork1.Parent.Fork)
	assert.Equal(t, 1, fork1.Parent.Fork.Position)
	assert.Equal(t, "fire", fork1.Parent.Fork.Spell.Name)

	got, err := g.Fetch(ctx, tx, root.NodeID)
	require.NoError(t, err)
	assert.Equal(t, natural.NodeID, got.NaturalChild)
	require.Len(t, got.ForkChildren, 2)
	assert.Equal(t, fork0.NodeID, got.ForkChildren[0].NodeID)
	assert.Equal(t, 0, got.ForkChildren[0].Fork.Position)
	assert.Equal(t, fork1.NodeID, got.ForkChildren[1].NodeID)
	for _, fc := range got.ForkChildren {
		assert.NotEqual(t, got.NaturalChild, fc.NodeID)
	}

	next, err := g.NextForkPosition(ctx, tx, root.NodeID)
	require.NoError(t, err)
	assert.Equal(t, 2, next)
	next, err = g.NextForkPosition(ctx, tx, natural.NodeID)
	require.NoError(t, err)
	assert.Equal(t, 0, next)
}

func TestInsert_Errors(t *testing.T) {
	ctx := context.Background()
	g, tx, ids := setup(t)
	root := insert(t, g, tx, Draft{Content: NewContent("root")})
	fire := insertSpell(t, tx, ids, "fire")
	insert(t, g, tx, Draft{ParentID: root.NodeID, Content: NewContent("on")})
	insert(t, g, tx, Draft{ParentID: root.NodeID, Fork: &ForkSpec{Position: 0, SpellID: fire.SpellID}})

	tests := []struct {
		name  string
		draft Draft
		check func(error) bool
	}{
		{"missing parent", Draft{ParentID: "nowhere"}, apperror.IsNotFound},
		{"missing fork spell", Draft{ParentID: root.NodeID, Fork: &ForkSpec{Position: 5, SpellID: "nothing"}}, apperror.IsNotFound},
		{"missing creator", Draft{CreatedBy: player.ID("ghost")}, apperror.IsNotFound},
		{"natural slot taken", Draft{ParentID: root.NodeID}, apperror.IsValidation},
		{"fork position taken", Draft{ParentID: root.NodeID, Fork: &ForkSpec{Position: 0, SpellID: fire.SpellID}}, apperror.IsValidation},
		{"negative fork position", Draft{ParentID: root.NodeID, Fork: &ForkSpec{Position: -1, SpellID: fire.SpellID}}, apperror.IsValidation},
		{"root fork", Draft{Fork: &ForkSpec{SpellID: fire.SpellID}}, apperror.IsValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.Insert(ctx, tx, tt.draft)
			assert.True(t, tt.check(err), "got %v", err)
		})
	}
}

func TestInsert_MissingCreatorNamesUser(t *testing.T) {
	g, tx, _ := setup(t)

	_, err := g.Insert(context.Background(), tx, Draft{Content: NewContent("x"), CreatedBy: player.ID("ghost")})
	require.True(t, apperror.IsNotFound(err), "got %v", err)
	assert.Contains(t, err.Error(), "ghost")

	var n int
	require.NoError(t, tx.QueryRow(context.Background(), `SELECT COUNT(*) FROM nodes`).Scan(&n))
	assert.Zero(t, n)
}

func TestFetch_NotFound(t *testing.T) {
	g, tx, _ := setup(t)

	_, err := g.Fetch(context.Background(), tx, "missing")
	assert.True(t, apperror.IsNotFound(err))
}

func TestFetch_RejectsUnknownContentVersion(t *testing.T) {
	ctx := context.Background()
	g, tx, _ := setup(t)
	_, err := tx.Exec(ctx, `INSERT INTO nodes (node_id, content, paragraph_count) VALUES ('odd', '{"version":9,"paragraphs":[]}', 0)`)
	require.NoError(t, err)

	_, err = g.Fetch(ctx, tx, "odd")
	assert.True(t, apperror.IsInternal(err), "got %v", err)
}

func TestFetchCurrentPosition(t *testing.T) {
	ctx := context.Background()
	g, tx, ids := setup(t)
	root := insert(t, g, tx, Draft{Content: NewContent("root")})
	reg := player.NewRegistry(ids)
	placed, err := reg.Create(ctx, tx, "alice", root.NodeID)
	require.NoError(t, err)
	unplaced, err := reg.Create(ctx, tx, "bob", "")
	require.NoError(t, err)

	n, err := g.FetchCurrentPosition(ctx, tx, placed.UserID)
	require.NoError(t, err)
	assert.Equal(t, root.NodeID, n.NodeID)

	_, err = g.FetchCurrentPosition(ctx, tx, unplaced.UserID)
	assert.True(t, apperror.IsNotFound(err))

	_, err = g.FetchCurrentPosition(ctx, tx, "ghost")
	assert.True(t, apperror.IsNotFound(err))
}
