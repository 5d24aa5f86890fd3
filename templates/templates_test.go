package templates

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const blogTemplate = `
slug: blog
title: Blog
description: Start a blog.
icon: pen
examples: ["Write weekly"]
default_tasks:
  - id: task-1
    title: Pick a platform
    description: Choose where to publish.
    priority: 1
  - id: task-2
    title: First post
    description: Publish it.
    priority: 2
    dependencies: [task-1]
`

func TestParse(t *testing.T) {
	tpl, err := Parse([]byte(blogTemplate))
	require.NoError(t, err)

	assert.Equal(t, "blog", tpl.Slug)
	require.Len(t, tpl.DefaultTasks, 2)
	assert.Equal(t, []string{}, tpl.DefaultTasks[0].Dependencies)
	assert.Equal(t, []string{"task-1"}, tpl.DefaultTasks[1].Dependencies)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"bad slug", "slug: Blog Posts\ntitle: x\n", "slug"},
		{"missing title", "slug: blog\n", "title is required"},
		{"unknown field", "slug: blog\ntitle: x\ncolour: red\n", "colour"},
		{
			"unknown dependency",
			"slug: blog\ntitle: x\ndefault_tasks:\n  - id: a\n    dependencies: [b]\n",
			`unknown dependency "b"`,
		},
		{
			"duplicate id",
			"slug: blog\ntitle: x\ndefault_tasks:\n  - id: a\n  - id: a\n",
			`duplicate id "a"`,
		},
		{
			"cycle",
			"slug: blog\ntitle: x\ndefault_tasks:\n  - id: a\n    dependencies: [b]\n  - id: b\n    dependencies: [a]\n",
			"circular",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestBuiltin(t *testing.T) {
	list, err := LoadFS(Builtin())
	require.NoError(t, err)

	catalog := NewCatalog(list)
	assert.Equal(t, 3, catalog.Len())
	for _, slug := range []string{"etudiant", "freelance", "product-launch"} {
		tpl, err := catalog.Get(slug)
		require.NoError(t, err, slug)
		assert.NotEmpty(t, tpl.DefaultTasks, slug)
	}
}

func TestCatalog(t *testing.T) {
	a := Template{Slug: "a", Title: "A", Examples: []string{}, DefaultTasks: []Task{{ID: "task-1"}}}
	b := Template{Slug: "b", Title: "B"}
	a2 := Template{Slug: "a", Title: "A again"}

	catalog := NewCatalog([]Template{a, b, a2})

	assert.Equal(t, 2, catalog.Len())
	got, err := catalog.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "A again", got.Title)

	_, err = catalog.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	summaries := catalog.Summaries()
	require.Len(t, summaries, 2)
	assert.Equal(t, "a", summaries[0].Slug, "replacement keeps position")

	data, err := json.Marshal(summaries[0])
	require.NoError(t, err)
	assert.NotContains(t, string(data), "defaultTasks")
}

func TestLoadFS(t *testing.T) {
	fsys := fstest.MapFS{
		"blog.yaml":        {Data: []byte(blogTemplate)},
		"nested/other.yml": {Data: []byte("slug: other\ntitle: Other\n")},
		"README.md":        {Data: []byte("# not a template")},
	}

	list, err := LoadFS(fsys)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "blog", list[0].Slug)
	assert.Equal(t, "other", list[1].Slug)

	fsys["broken.yaml"] = &fstest.MapFile{Data: []byte("slug: [")}
	_, err = LoadFS(fsys)
	assert.ErrorContains(t, err, "broken.yaml")
}

func TestLoader(t *testing.T) {
	ctx := context.Background()

	t.Run("built-ins only", func(t *testing.T) {
		catalog, err := NewLoader("", nil).Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, catalog.Len())
	})

	t.Run("missing directory", func(t *testing.T) {
		catalog, err := NewLoader(filepath.Join(t.TempDir(), "nope"), nil).Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, catalog.Len())
	})

	t.Run("directory adds, overrides and skips invalid", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "blog.yaml"), []byte(blogTemplate), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "freelance.yaml"),
			[]byte("slug: freelance\ntitle: Consulting\n"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("title: no slug\n"), 0o644))

		catalog, err := NewLoader(dir, nil).Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4, catalog.Len())

		freelance, err := catalog.Get("freelance")
		require.NoError(t, err)
		assert.Equal(t, "Consulting", freelance.Title)

		_, err = catalog.Get("blog")
		assert.NoError(t, err)
	})
}
