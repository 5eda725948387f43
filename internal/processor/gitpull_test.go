package processor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitdeployer/internal/changeset"
	"gitdeployer/internal/deployment"
	"gitdeployer/internal/gitsync"
	"gitdeployer/internal/gitsync/gitsynctest"
	"gitdeployer/internal/marker"
	"gitdeployer/internal/target"
)

func newTestTarget(t *testing.T, remote *gitsynctest.Remote) *target.Target {
	t.Helper()
	return &target.Target{
		ID:         "site1",
		MirrorPath: filepath.Join(t.TempDir(), "site1"),
		Remote:     gitsync.Remote{URL: remote.URL(), Branch: "main"},
	}
}

func newTestMarkers(t *testing.T) *marker.FileStore {
	t.Helper()
	store, err := marker.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func runningDeployment() *deployment.Deployment {
	return &deployment.Deployment{ID: "d1", TargetID: "site1", Running: true}
}

func execute(t *testing.T, p deployment.Processor, d *deployment.Deployment, params map[string]any) (changeset.ChangeSet, string) {
	t.Helper()
	res, err := p.Execute(context.Background(), d, d.ChangeSet, params)
	require.NoError(t, err)
	cs, replaced := res.ChangeSet()
	require.True(t, replaced, "git-pull always replaces the ChangeSet")
	return cs, res.Detail()
}

func TestGitPull_ClonesAbsentMirror(t *testing.T) {
	remote := gitsynctest.NewRemote(t)
	remote.Write("index.xml", "<root/>").Write("content/a.xml", "a")
	head := remote.Commit("initial")

	markers := newTestMarkers(t)
	require.NoError(t, markers.Put(context.Background(), "site1", "0123456789abcdef0123456789abcdef01234567"))

	tgt := newTestTarget(t, remote)
	p := NewGitPull(tgt, markers, nil)
	d := runningDeployment()

	cs, detail := execute(t, p, d, nil)

	assert.Equal(t, []string{"content/a.xml", "index.xml"}, cs.Created())
	assert.Empty(t, cs.Updated())
	assert.Empty(t, cs.Deleted())
	assert.Contains(t, detail, "Successfully cloned")
	assert.Equal(t, head, d.ToRevision)
	assert.Empty(t, d.FromRevision)

	_, err := markers.Get(context.Background(), "site1")
	assert.ErrorIs(t, err, marker.ErrNotFound, "a re-clone resets the marker")
}

func TestGitPull_CloneFailureLeavesNoMirror(t *testing.T) {
	markers := newTestMarkers(t)
	require.NoError(t, markers.Put(context.Background(), "site1", "abc123"))

	tgt := &target.Target{
		ID:         "site1",
		MirrorPath: filepath.Join(t.TempDir(), "site1"),
		Remote:     gitsync.Remote{URL: filepath.Join(t.TempDir(), "missing"), Branch: "main"},
	}
	p := NewGitPull(tgt, markers, nil)

	_, err := p.Execute(context.Background(), runningDeployment(), changeset.ChangeSet{}, nil)
	var syncErr *gitsync.SyncError
	require.True(t, errors.As(err, &syncErr))
	assert.Equal(t, "clone", syncErr.Op)

	_, statErr := os.Stat(tgt.MirrorPath)
	assert.True(t, os.IsNotExist(statErr))
	assert.False(t, p.Mirror.Present(), "the next run starts from NOT_PRESENT again")

	rev, err := markers.Get(context.Background(), "site1")
	require.NoError(t, err)
	assert.Equal(t, "abc123", rev)
}

func TestGitPull_UpToDate(t *testing.T) {
	remote := gitsynctest.NewRemote(t)
	remote.Write("a.txt", "a")
	head := remote.Commit("initial")

	markers := newTestMarkers(t)
	tgt := newTestTarget(t, remote)
	p := NewGitPull(tgt, markers, nil)

	execute(t, p, runningDeployment(), nil)
	require.NoError(t, markers.Put(context.Background(), "site1", head))

	d := runningDeployment()
	cs, detail := execute(t, p, d, nil)

	assert.True(t, cs.IsEmpty())
	assert.Contains(t, detail, "Already up to date")
	assert.Equal(t, head, d.ToRevision)
}

func TestGitPull_FastForwardDiffsFromMarker(t *testing.T) {
	remote := gitsynctest.NewRemote(t)
	remote.Write("a.txt", "a").Write("b.txt", "b")
	first := remote.Commit("initial")

	markers := newTestMarkers(t)
	p := NewGitPull(newTestTarget(t, remote), markers, nil)
	execute(t, p, runningDeployment(), nil)
	require.NoError(t, markers.Put(context.Background(), "site1", first))

	remote.Write("a.txt", "changed").Write("c.txt", "c").Remove("b.txt")
	second := remote.Commit("second")

	d := runningDeployment()
	cs, detail := execute(t, p, d, nil)

	assert.Equal(t, []string{"c.txt"}, cs.Created())
	assert.Equal(t, []string{"a.txt"}, cs.Updated())
	assert.Equal(t, []string{"b.txt"}, cs.Deleted())
	assert.Contains(t, detail, "Fast-forwarded")
	assert.Equal(t, first, d.FromRevision)
	assert.Equal(t, second, d.ToRevision)
}

func TestGitPull_IncludesChangesOfUnprocessedPulls(t *testing.T) {
	remote := gitsynctest.NewRemote(t)
	remote.Write("a.txt", "a")
	first := remote.Commit("initial")

	markers := newTestMarkers(t)
	p := NewGitPull(newTestTarget(t, remote), markers, nil)
	execute(t, p, runningDeployment(), nil)
	require.NoError(t, markers.Put(context.Background(), "site1", first))

	// Pulled, but the run failed afterwards so the marker stayed at first.
	remote.Write("b.txt", "b")
	remote.Commit("second")
	execute(t, p, runningDeployment(), nil)

	remote.Write("c.txt", "c")
	remote.Commit("third")

	d := runningDeployment()
	cs, _ := execute(t, p, d, nil)
	assert.Equal(t, []string{"b.txt", "c.txt"}, cs.Created())
	assert.Equal(t, first, d.FromRevision)
}

func TestGitPull_ReprocessesAllWithoutUsableMarker(t *testing.T) {
	remote := gitsynctest.NewRemote(t)
	remote.Write("a.txt", "a").Write("b.txt", "b")
	head := remote.Commit("initial")

	testCases := []struct {
		name   string
		marker string
		params map[string]any
	}{
		{"missing marker", "", nil},
		{"unknown marker", "0123456789abcdef0123456789abcdef01234567", nil},
		{"reprocess param", head, map[string]any{ReprocessAllParam: "true"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			markers := newTestMarkers(t)
			p := NewGitPull(newTestTarget(t, remote), markers, nil)
			execute(t, p, runningDeployment(), nil)

			if tc.marker != "" {
				require.NoError(t, markers.Put(context.Background(), "site1", tc.marker))
			}

			cs, detail := execute(t, p, runningDeployment(), tc.params)
			assert.Equal(t, []string{"a.txt", "b.txt"}, cs.Created())
			assert.Contains(t, detail, "processing all 2 files")
		})
	}
}

func TestGitPull_AppliesTargetFilter(t *testing.T) {
	remote := gitsynctest.NewRemote(t)
	remote.Write("content/a.xml", "a").Write("content/a.tmp", "t").Write("README.md", "r")
	remote.Commit("initial")

	filter, err := changeset.NewFilter([]string{"content/**"}, []string{"**/*.tmp"})
	require.NoError(t, err)

	tgt := newTestTarget(t, remote)
	tgt.Filter = filter

	cs, _ := execute(t, NewGitPull(tgt, newTestMarkers(t), nil), runningDeployment(), nil)
	assert.Equal(t, []string{"content/a.xml"}, cs.Created())
}

func TestGitPull_UnsupportedMerge(t *testing.T) {
	gitsynctest.RequireGit(t)

	remote := gitsynctest.NewRemote(t)
	remote.Write("a.txt", "base")
	remote.Commit("initial")

	markers := newTestMarkers(t)
	tgt := newTestTarget(t, remote)
	p := NewGitPull(tgt, markers, nil)
	execute(t, p, runningDeployment(), nil)

	gitsynctest.CommitInClone(t, tgt.MirrorPath, "a.txt", "local")
	remote.Write("a.txt", "remote")
	remote.Commit("conflicting")

	_, err := p.Execute(context.Background(), runningDeployment(), changeset.ChangeSet{}, nil)
	assert.ErrorIs(t, err, gitsync.ErrUnsupportedMerge)
}

func TestGitPull_SkipsDryRun(t *testing.T) {
	p := &GitPull{}
	assert.False(t, p.ShouldExecute(&deployment.Deployment{}, changeset.ChangeSet{}))
	assert.True(t, p.ShouldExecute(runningDeployment(), changeset.ChangeSet{}))
	assert.True(t, NewGitPull(&target.Target{ID: "x"}, nil, nil).FailsDeploymentOnError())
}

func TestGitPull_Preview(t *testing.T) {
	remote := gitsynctest.NewRemote(t)
	remote.Write("a.txt", "a")
	first := remote.Commit("initial")

	markers := newTestMarkers(t)
	p := NewGitPull(newTestTarget(t, remote), markers, nil)

	cs, err := p.Preview(context.Background(), nil, false)
	require.NoError(t, err)
	assert.True(t, cs.IsEmpty(), "absent mirror")

	execute(t, p, runningDeployment(), nil)

	cs, err = p.Preview(context.Background(), nil, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, cs.Created(), "no marker yet")

	require.NoError(t, markers.Put(context.Background(), "site1", first))
	remote.Write("b.txt", "b")
	remote.Commit("second")

	cs, err = p.Preview(context.Background(), nil, false)
	require.NoError(t, err)
	assert.True(t, cs.IsEmpty(), "preview never pulls")

	cs, err = p.Preview(context.Background(), nil, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, cs.Created())
}
