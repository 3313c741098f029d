package dao

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"inspo/inspo/config"
	"inspo/inspo/sources/psql"
	"inspo/inspo/sources/psql/models"
	"inspo/inspo/utils/errs"
	"inspo/inspo/utils/types"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	database, err := psql.NewDatabase(context.Background(), config.DBConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "chat.db"),
	})
	require.NoError(t, err)
	t.Cleanup(database.Close)
	return database.DB
}

func seedProject(t *testing.T, db *gorm.DB) *models.Project {
	t.Helper()
	p := &models.Project{Name: "Solar Kiln", Description: "Dry lumber with sunlight", FolderPath: "/tmp/solar-kiln"}
	require.NoError(t, db.Create(p).Error)
	return p
}

func TestAppendAssignsContiguousSeqUnderConcurrency(t *testing.T) {
	db := setupTestDB(t)
	sessions := NewChatSessionDAO(db)
	messages := NewChatMessageDAO(db)
	ctx := context.Background()

	p := seedProject(t, db)
	s, err := sessions.GetOrCreate(ctx, p.ID, p.Name)
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	seqs := make([]int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg, err := messages.Append(ctx, s.ID, types.RoleUser, "hello")
			if assert.NoError(t, err) {
				seqs[i] = msg.Seq
			}
		}(i)
	}
	wg.Wait()

	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	for i, seq := range seqs {
		// seq 1 is the opening message
		assert.Equal(t, int64(i+2), seq)
	}

	all, err := messages.List(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, all, n+1)
	for i, m := range all {
		assert.Equal(t, int64(i+1), m.Seq)
	}
}

func TestListSinceFiltersAndLimits(t *testing.T) {
	db := setupTestDB(t)
	sessions := NewChatSessionDAO(db)
	messages := NewChatMessageDAO(db)
	ctx := context.Background()

	p := seedProject(t, db)
	s, err := sessions.GetOrCreate(ctx, p.ID, p.Name)
	require.NoError(t, err)
	for _, c := range []string{"a", "b", "c"} {
		_, err := messages.Append(ctx, s.ID, types.RoleUser, c)
		require.NoError(t, err)
	}

	since, err := messages.ListSince(ctx, s.ID, 2, 0)
	require.NoError(t, err)
	require.Len(t, since, 2)
	assert.Equal(t, "b", since[0].Content)
	assert.Equal(t, "c", since[1].Content)

	limited, err := messages.ListSince(ctx, s.ID, 0, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, int64(1), limited[0].Seq)

	none, err := messages.ListSince(ctx, s.ID, 4, 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	last, err := messages.Last(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "c", last.Content)
}

func TestAppendToMissingSession(t *testing.T) {
	db := setupTestDB(t)
	messages := NewChatMessageDAO(db)

	_, err := messages.Append(context.Background(), uuid.New(), types.RoleUser, "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrStorage)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	var count int64
	require.NoError(t, db.Model(&models.ChatMessage{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestAppendToArchivedSession(t *testing.T) {
	db := setupTestDB(t)
	sessions := NewChatSessionDAO(db)
	messages := NewChatMessageDAO(db)
	ctx := context.Background()

	p := seedProject(t, db)
	s, err := sessions.GetOrCreate(ctx, p.ID, p.Name)
	require.NoError(t, err)
	_, err = sessions.Archive(ctx, s.ID, "")
	require.NoError(t, err)

	_, err = messages.Append(ctx, s.ID, types.RoleAssistant, "too late")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrValidation)
	assert.NotErrorIs(t, err, errs.ErrStorage)

	all, err := messages.List(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, all, 1)

	got, err := sessions.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.NextSeq)
}

func TestGetOrCreateSurvivesCancelledPeer(t *testing.T) {
	db := setupTestDB(t)
	sessions := NewChatSessionDAO(db)
	p := seedProject(t, db)

	require.NoError(t, db.Callback().Query().Before("gorm:query").Register("test:slow", func(*gorm.DB) {
		time.Sleep(80 * time.Millisecond)
	}))

	shortCtx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	var errA, errB error
	var got *models.ChatSession
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errA = sessions.GetOrCreate(shortCtx, p.ID, p.Name)
	}()
	go func() {
		defer wg.Done()
		time.Sleep(10 * time.Millisecond)
		got, errB = sessions.GetOrCreate(context.Background(), p.ID, p.Name)
	}()
	wg.Wait()

	assert.ErrorIs(t, errA, context.DeadlineExceeded)
	require.NoError(t, errB)
	assert.Equal(t, 1, got.Ordinal)

	var count int64
	require.NoError(t, db.Model(&models.ChatSession{}).Where("project_id = ?", p.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestGetOrCreateIsIdempotentUnderConcurrency(t *testing.T) {
	db := setupTestDB(t)
	p := seedProject(t, db)
	ctx := context.Background()

	// separate DAOs so the race reaches the database instead of one singleflight group
	const n = 8
	ids := make([]uuid.UUID, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := NewChatSessionDAO(db).GetOrCreate(ctx, p.ID, p.Name)
			if assert.NoError(t, err) {
				ids[i] = s.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	var count int64
	require.NoError(t, db.Model(&models.ChatSession{}).Where("project_id = ?", p.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	msgs, err := NewChatMessageDAO(db).List(ctx, ids[0])
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(1), msgs[0].Seq)
	assert.Equal(t, types.RoleSystem, msgs[0].Role)
	assert.Equal(t, OpeningMessage(p.Name), msgs[0].Content)
}

func TestCreateListGetArchive(t *testing.T) {
	db := setupTestDB(t)
	sessions := NewChatSessionDAO(db)
	p := seedProject(t, db)
	ctx := context.Background()

	first, err := sessions.GetOrCreate(ctx, p.ID, p.Name)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Ordinal)
	assert.Equal(t, "Solar Kiln #1", first.Title)

	second, err := sessions.Create(ctx, p.ID, "Budget", p.Name)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Ordinal)
	assert.Equal(t, "Budget", second.Title)

	current, err := sessions.GetOrCreate(ctx, p.ID, p.Name)
	require.NoError(t, err)
	assert.Equal(t, second.ID, current.ID)

	list, err := sessions.List(ctx, p.ID, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)

	_, err = sessions.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, errs.ErrNotFound)

	archived, err := sessions.Archive(ctx, second.ID, "transcripts/x.txt")
	require.NoError(t, err)
	require.True(t, archived.Archived())
	assert.Equal(t, "transcripts/x.txt", archived.ArchiveKey)

	// archiving the current session makes the previous one current again
	current, err = sessions.GetOrCreate(ctx, p.ID, p.Name)
	require.NoError(t, err)
	assert.Equal(t, first.ID, current.ID)
}

func TestGetProjectContext(t *testing.T) {
	db := setupTestDB(t)
	projects := NewProjectDAO(db)
	p := seedProject(t, db)
	ctx := context.Background()

	idea := &models.Idea{Title: "Kiln", Summary: "Solar dryer", Description: "<p>Glazed box</p>"}
	other := &models.Idea{Title: "Unrelated", Summary: "x", Description: "y"}
	require.NoError(t, db.Create(idea).Error)
	require.NoError(t, db.Create(other).Error)
	require.NoError(t, db.Create(&models.IdeaProject{IdeaID: idea.ID, ProjectID: p.ID}).Error)

	pc, err := projects.GetProjectContext(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Solar Kiln", pc.Name)
	assert.Equal(t, "/tmp/solar-kiln", pc.FolderPath)
	want := []types.IdeaSummary{{Title: "Kiln", Summary: "Solar dryer", Description: "<p>Glazed box</p>"}}
	if diff := cmp.Diff(want, pc.Ideas); diff != "" {
		t.Errorf("ideas mismatch (-want +got):\n%s", diff)
	}

	_, err = projects.GetProject(ctx, 999)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}
