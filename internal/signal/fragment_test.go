package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTree() *Tree {
	return &Tree{
		Root: &Fragment{
			ID: "f0", Content: "restart the payment service", Level: LevelIntent,
			Children: []*Fragment{
				{
					ID: "f1", Content: "payment service", Level: LevelEntity,
					Children: []*Fragment{
						{ID: "f2", Content: "error rate 40%", Level: LevelAttribute},
					},
				},
				{ID: "f3", Content: "cause: expired certificate", Level: LevelDetail},
			},
		},
		OriginalText: "Please restart the payment service, error rate hit 40% after the certificate expired.",
	}
}

func TestFlattenPreorder(t *testing.T) {
	tree := sampleTree()
	var ids []string
	for _, f := range tree.Flatten() {
		ids = append(ids, f.ID)
	}
	assert.Equal(t, []string{"f0", "f1", "f2", "f3"}, ids)
	assert.Equal(t, 4, tree.NodeCount())
}

func TestCloneIsDeep(t *testing.T) {
	tree := sampleTree()
	cp := tree.Clone()
	cp.Root.Children[0].Content = "mutated"
	cp.Root.Children[0].Children[0].Importance = 42

	assert.Equal(t, "payment service", tree.Root.Children[0].Content)
	assert.Zero(t, tree.Root.Children[0].Children[0].Importance)
}

func TestFindByID(t *testing.T) {
	tree := sampleTree()
	f := tree.FindByID("f2")
	require.NotNil(t, f)
	assert.Equal(t, "error rate 40%", f.Content)
	assert.Nil(t, tree.FindByID("nope"))
}

func TestValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, sampleTree().Validate())
	})

	t.Run("nil root", func(t *testing.T) {
		tree := &Tree{}
		assert.Error(t, tree.Validate())
	})

	t.Run("duplicate ids", func(t *testing.T) {
		tree := sampleTree()
		tree.Root.Children[1].ID = "f1"
		assert.Error(t, tree.Validate())
	})

	t.Run("empty id", func(t *testing.T) {
		tree := sampleTree()
		tree.Root.Children[0].ID = ""
		assert.Error(t, tree.Validate())
	})

	t.Run("negative importance", func(t *testing.T) {
		tree := sampleTree()
		tree.Root.Importance = -1
		assert.Error(t, tree.Validate())
	})
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want Level
	}{
		{"INTENT", LevelIntent},
		{"critical", LevelIntent},
		{"HIGH", LevelEntity},
		{"entity", LevelEntity},
		{"medium", LevelAttribute},
		{"DETAIL", LevelDetail},
		{"low", LevelDetail},
		{"garbage", LevelDetail},
		{"", LevelDetail},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ParseLevel(tc.in), "input %q", tc.in)
	}
}

func TestTierAliases(t *testing.T) {
	assert.Equal(t, LevelIntent, TierCritical)
	assert.Equal(t, LevelEntity, TierHigh)
	assert.Equal(t, LevelAttribute, TierMedium)
	assert.Equal(t, LevelDetail, TierLow)
}
