package onboarding

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/avelez/chapterboard/internal/identity"
	"github.com/avelez/chapterboard/internal/models"
	"github.com/avelez/chapterboard/internal/session"
	"github.com/avelez/chapterboard/internal/token"
	"github.com/avelez/chapterboard/internal/upload"
)

var pngBytes = append([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, make([]byte, 32)...)

type nopMailer struct{}

func (nopMailer) Send(to, subject, body string) error { return nil }

// trickResolver lets tests make the advisory pre-check miss or fail while
// the database underneath still enforces the real unique constraint.
type trickResolver struct {
	*identity.Resolver
	misses int
	fail   bool
}

func (r *trickResolver) FindByRNumber(ctx context.Context, rNumber string) (*models.User, error) {
	if r.fail {
		return nil, errors.New("persistence timeout")
	}
	if r.misses > 0 {
		r.misses--
		return nil, nil
	}
	return r.Resolver.FindByRNumber(ctx, rNumber)
}

type testEnv struct {
	db       *gorm.DB
	resolver *trickResolver
	orch     *Orchestrator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Session{}, &models.AccountLinkingToken{}))

	resolver := &trickResolver{
		Resolver: identity.NewResolver(db, token.NewIssuer("test-secret"), nopMailer{}, "http://localhost:3000"),
	}
	orch := NewOrchestrator(db, resolver, session.NewStore(db), upload.NewValidator(), upload.NewDiskStore(t.TempDir()))
	return &testEnv{db: db, resolver: resolver, orch: orch}
}

func (e *testEnv) seedUser(t *testing.T, email, channel string, rNumber, password *string) *models.User {
	t.Helper()
	user := models.User{
		ID:          uuid.New(),
		Email:       email,
		AuthChannel: channel,
		RNumber:     rNumber,
		Password:    password,
		Onboarded:   rNumber != nil,
	}
	require.NoError(t, e.db.Create(&user).Error)
	return &user
}

func strptr(s string) *string { return &s }

func hashptr(t *testing.T, password string) *string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	s := string(h)
	return &s
}

func TestCompleteOnboarding_Success(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "new@example.edu", models.ChannelGoogle, nil, nil)

	result := env.orch.CompleteOnboarding(context.Background(), user.ID, ProfileData{
		RNumber:      "R12345678",
		Name:         "Ada Lovelace",
		Major:        "Computer Science",
		Technologies: []string{"go", "postgres"},
	}, []File{
		{Kind: upload.KindProfilePicture, Name: "me.png", DeclaredMime: "image/png", Data: pngBytes},
	})

	require.Equal(t, StatusSuccess, result.Status, "reason: %s", result.Reason)
	require.NotNil(t, result.Profile)
	assert.Equal(t, "R12345678", *result.Profile.RNumber)
	assert.True(t, result.Profile.Onboarded)
	assert.NotNil(t, result.Profile.ProfilePicture)
	assert.Nil(t, result.Profile.Resume)
}

func TestCompleteOnboarding_RejectedFileNeverTouchesDatabase(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "new@example.edu", models.ChannelGoogle, nil, nil)

	result := env.orch.CompleteOnboarding(context.Background(), user.ID, ProfileData{
		RNumber: "R12345678",
	}, []File{
		{Kind: upload.KindResume, Name: "x.pdf", DeclaredMime: "application/pdf", Data: []byte("MZ\x90\x00binary")},
	})

	assert.Equal(t, StatusFailure, result.Status)

	var fresh models.User
	require.NoError(t, env.db.First(&fresh, "id = ?", user.ID).Error)
	assert.Nil(t, fresh.RNumber)
	assert.False(t, fresh.Onboarded)
	assert.Nil(t, fresh.Resume, "no file pointer may be committed on a failed onboarding")
}

// Scenario: user X owns the R Number; user Y submits onboarding claiming it.
func TestCompleteOnboarding_DuplicateDetectedByPreCheck(t *testing.T) {
	env := newTestEnv(t)
	x := env.seedUser(t, "x@example.edu", models.ChannelGoogle, strptr("R12345678"), nil)
	y := env.seedUser(t, "y@outlook.com", models.ChannelMicrosoft, nil, nil)

	result := env.orch.CompleteOnboarding(context.Background(), y.ID, ProfileData{RNumber: "R12345678"}, nil)

	require.Equal(t, StatusDuplicate, result.Status)
	require.NotNil(t, result.Existing)
	assert.Equal(t, x.ID, result.Existing.ID)
	assert.NotEmpty(t, result.LinkingToken)

	// No second claim on the R Number was written.
	var claimCount int64
	require.NoError(t, env.db.Model(&models.User{}).Where("r_number = ?", "R12345678").Count(&claimCount).Error)
	assert.EqualValues(t, 1, claimCount)

	var fresh models.User
	require.NoError(t, env.db.First(&fresh, "id = ?", y.ID).Error)
	assert.False(t, fresh.Onboarded)
}

// Scenario: the pre-check misses (a concurrent claim landed between check
// and write), so the write loses the unique-constraint race. The loser gets
// the same Duplicate outcome, never a raw constraint error.
func TestCompleteOnboarding_ConstraintRaceConvertsToDuplicate(t *testing.T) {
	env := newTestEnv(t)
	x := env.seedUser(t, "x@example.edu", models.ChannelGoogle, strptr("R99999999"), nil)
	y := env.seedUser(t, "y@outlook.com", models.ChannelMicrosoft, nil, nil)

	env.resolver.misses = 1 // the advisory pre-check sees no collision

	result := env.orch.CompleteOnboarding(context.Background(), y.ID, ProfileData{RNumber: "R99999999"}, nil)

	require.Equal(t, StatusDuplicate, result.Status, "reason: %s", result.Reason)
	require.NotNil(t, result.Existing)
	assert.Equal(t, x.ID, result.Existing.ID)
	assert.NotEmpty(t, result.LinkingToken)
}

func TestCompleteOnboarding_PreCheckFailureFailsClosed(t *testing.T) {
	env := newTestEnv(t)
	y := env.seedUser(t, "y@outlook.com", models.ChannelMicrosoft, nil, nil)

	env.resolver.fail = true

	result := env.orch.CompleteOnboarding(context.Background(), y.ID, ProfileData{RNumber: "R12345678"}, nil)
	assert.Equal(t, StatusFailure, result.Status)

	var fresh models.User
	require.NoError(t, env.db.First(&fresh, "id = ?", y.ID).Error)
	assert.Nil(t, fresh.RNumber, "an unknown pre-check result must never proceed to the write")
}

func TestCompleteOnboarding_ReclaimingOwnRNumber(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "x@example.edu", models.ChannelGoogle, strptr("R12345678"), nil)

	// Re-submitting onboarding with the R Number the user already owns is
	// not a collision.
	result := env.orch.CompleteOnboarding(context.Background(), user.ID, ProfileData{
		RNumber: "R12345678",
		Major:   "Mathematics",
	}, nil)

	require.Equal(t, StatusSuccess, result.Status, "reason: %s", result.Reason)
}

func TestCompleteOnboarding_MissingRNumber(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "x@example.edu", models.ChannelGoogle, nil, nil)

	result := env.orch.CompleteOnboarding(context.Background(), user.ID, ProfileData{}, nil)
	assert.Equal(t, StatusFailure, result.Status)
}

func TestCompleteAccountLinking_PasswordSuccessIssuesSession(t *testing.T) {
	env := newTestEnv(t)
	x := env.seedUser(t, "x@example.edu", models.ChannelGoogle, strptr("R12345678"), hashptr(t, "hunter22"))
	y := env.seedUser(t, "y@outlook.com", models.ChannelMicrosoft, nil, nil)

	dup := env.orch.CompleteOnboarding(context.Background(), y.ID, ProfileData{RNumber: "R12345678"}, nil)
	require.Equal(t, StatusDuplicate, dup.Status)

	linked := env.orch.CompleteAccountLinking(context.Background(), dup.LinkingToken, MethodPassword, "hunter22")
	require.Equal(t, StatusSuccess, linked.Status, "reason: %s", linked.Reason)
	require.NotNil(t, linked.User)
	assert.Equal(t, x.ID, linked.User.ID)
	assert.Equal(t, "y@outlook.com", linked.User.Email)
	assert.NotEmpty(t, linked.BearerToken)

	// The fresh session belongs to the merged identity.
	got, err := session.NewStore(env.db).Validate(context.Background(), linked.BearerToken)
	require.NoError(t, err)
	assert.Equal(t, x.ID, got.ID)
}

func TestCompleteAccountLinking_ReplayReportsAlreadyUsed(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "x@example.edu", models.ChannelGoogle, strptr("R12345678"), hashptr(t, "hunter22"))
	y := env.seedUser(t, "y@outlook.com", models.ChannelMicrosoft, nil, nil)

	dup := env.orch.CompleteOnboarding(context.Background(), y.ID, ProfileData{RNumber: "R12345678"}, nil)
	require.Equal(t, StatusDuplicate, dup.Status)

	first := env.orch.CompleteAccountLinking(context.Background(), dup.LinkingToken, MethodPassword, "hunter22")
	require.Equal(t, StatusSuccess, first.Status)

	second := env.orch.CompleteAccountLinking(context.Background(), dup.LinkingToken, MethodPassword, "hunter22")
	assert.Equal(t, StatusFailure, second.Status)
	assert.Contains(t, second.Reason, "already been used")
}

func TestCompleteAccountLinking_WrongPassword(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "x@example.edu", models.ChannelGoogle, strptr("R12345678"), hashptr(t, "hunter22"))
	y := env.seedUser(t, "y@outlook.com", models.ChannelMicrosoft, nil, nil)

	dup := env.orch.CompleteOnboarding(context.Background(), y.ID, ProfileData{RNumber: "R12345678"}, nil)
	require.Equal(t, StatusDuplicate, dup.Status)

	failed := env.orch.CompleteAccountLinking(context.Background(), dup.LinkingToken, MethodPassword, "wrong")
	assert.Equal(t, StatusFailure, failed.Status)

	// The token survives the failed attempt.
	retry := env.orch.CompleteAccountLinking(context.Background(), dup.LinkingToken, MethodPassword, "hunter22")
	assert.Equal(t, StatusSuccess, retry.Status)
}

func TestCompleteAccountLinking_ResetAlwaysGenericSuccess(t *testing.T) {
	env := newTestEnv(t)

	// Even a token that was never issued gets the generic answer.
	result := env.orch.CompleteAccountLinking(context.Background(), "never-issued", MethodReset, "")
	assert.Equal(t, StatusSuccess, result.Status)
	assert.True(t, result.ResetSent)
}

func TestCompleteAccountLinking_UnknownMethod(t *testing.T) {
	env := newTestEnv(t)

	result := env.orch.CompleteAccountLinking(context.Background(), "tok", "carrier-pigeon", "")
	assert.Equal(t, StatusFailure, result.Status)
}
