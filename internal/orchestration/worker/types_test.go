package worker

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProjectContext_CloneIsIndependent(t *testing.T) {
	pc := ProjectContext{
		ID:           "p1",
		Requirements: &Requirements{Features: []string{"a"}},
		TechStack:    &TechStack{Other: []string{"redis"}},
		Files:        []File{{Path: "main.go"}},
	}

	c := pc.Clone()
	c.Requirements.Features[0] = "changed"
	c.TechStack.Other[0] = "changed"
	c.Files[0].Path = "changed"

	require.Equal(t, "a", pc.Requirements.Features[0])
	require.Equal(t, "redis", pc.TechStack.Other[0])
	require.Equal(t, "main.go", pc.Files[0].Path)
}

func TestMergeFiles(t *testing.T) {
	base := []File{{Path: "a", Content: "1"}, {Path: "b", Content: "1"}}
	got := MergeFiles(base, []File{{Path: "c", Content: "new"}, {Path: "a", Content: "2"}})

	require.Equal(t, []File{
		{Path: "a", Content: "2"},
		{Path: "b", Content: "1"},
		{Path: "c", Content: "new"},
	}, got)
	require.Equal(t, "1", base[0].Content)
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("qa")
	require.NoError(t, err)
	require.Equal(t, RoleQA, r)
	require.Equal(t, "QA engineer", r.Title())

	_, err = ParseRole("janitor")
	require.ErrorIs(t, err, ErrUnknownRole)
}
