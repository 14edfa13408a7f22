package sdfile

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Honjitsu-Seiten/SeitenBot2/pkg/models"
)

func move(from, to string) models.LogEntry {
	return models.LogEntry{Type: "move", Action: "move", Title: from, Target: to}
}

func TestResolveRemote(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(*fakeSite)
		want       models.RemoteFile
		renames    int
		redirected bool
	}{
		{
			name:  "exists",
			setup: func(s *fakeSite) { s.texts["File:A.jpg"] = "a" },
			want:  models.RemoteFile{Title: "File:A.jpg", Exists: true},
		},
		{
			name:  "missing without move",
			setup: func(*fakeSite) {},
			want:  models.RemoteFile{Title: "File:A.jpg"},
		},
		{
			name: "renamed twice",
			setup: func(s *fakeSite) {
				s.logs = []models.LogEntry{move("File:A.jpg", "File:B.jpg"), move("File:B.jpg", "File:C.jpg")}
				s.texts["File:C.jpg"] = "c"
			},
			want:    models.RemoteFile{Title: "File:C.jpg", Exists: true},
			renames: 2,
		},
		{
			name: "rename cycle",
			setup: func(s *fakeSite) {
				s.logs = []models.LogEntry{move("File:A.jpg", "File:B.jpg"), move("File:B.jpg", "File:A.jpg")}
			},
			want:    models.RemoteFile{Title: "File:B.jpg"},
			renames: 1,
		},
		{
			name: "redirect followed once",
			setup: func(s *fakeSite) {
				s.texts["File:A.jpg"] = "#REDIRECT [[File:B.jpg]]"
				s.redirects["File:A.jpg"] = "File:B.jpg"
				s.redirects["File:B.jpg"] = "File:C.jpg"
			},
			want:       models.RemoteFile{Title: "File:B.jpg", Exists: true},
			redirected: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			site := newFakeSite()
			tt.setup(site)
			res, err := ResolveRemote(context.Background(), site, "File:A.jpg", 10)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Remote)
			assert.Len(t, res.Renames, tt.renames)
			assert.Equal(t, tt.redirected, res.Redirected)
		})
	}
}

func TestResolveRemoteIsBounded(t *testing.T) {
	site := newFakeSite()
	for i := 0; i < 50; i++ {
		site.logs = append(site.logs, move(fmt.Sprintf("File:%d.jpg", i), fmt.Sprintf("File:%d.jpg", i+1)))
	}
	site.texts["File:50.jpg"] = "found too late"

	res, err := ResolveRemote(context.Background(), site, "File:0.jpg", 3)
	require.NoError(t, err)
	assert.False(t, res.Remote.Exists)
	assert.Equal(t, "File:3.jpg", res.Remote.Title)
	assert.Len(t, res.Renames, 3)
}
