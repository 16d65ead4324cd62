package commissions

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	listing "github.com/keystonerealty/keystone-backend/internal/listings"
	"github.com/keystonerealty/keystone-backend/internal/security"
	"github.com/keystonerealty/keystone-backend/pkg/db/models"
	"github.com/keystonerealty/keystone-backend/pkg/enums"
	pkgerrors "github.com/keystonerealty/keystone-backend/pkg/errors"
	"github.com/keystonerealty/keystone-backend/pkg/logger"
	"github.com/keystonerealty/keystone-backend/pkg/migrate"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type repoReader struct {
	repo *listing.Repository
}

func (r repoReader) Get(ctx context.Context, id uuid.UUID) (*listing.Listing, error) {
	row, err := r.repo.Load(ctx, id)
	if err != nil {
		if listing.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "listing not found")
		}
		return nil, err
	}
	return listing.Reconcile(row)
}

type recordingAlerts struct {
	alerts []security.Alert
}

func (r *recordingAlerts) Report(_ context.Context, alert security.Alert) {
	r.alerts = append(r.alerts, alert)
}

type fixture struct {
	svc      Service
	repo     *Repository
	listings *listing.Repository
	alerts   *recordingAlerts
	owner    uuid.UUID
}

func newFixture(t *testing.T, shape listing.Shape) *fixture {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, migrate.Up(context.Background(), sqlDB, goose.DialectSQLite3, migrate.Embedded()))

	f := &fixture{
		repo:     NewRepository(conn),
		listings: listing.NewRepository(conn, shape),
		alerts:   &recordingAlerts{},
		owner:    uuid.New(),
	}
	logg := logger.New(logger.Options{ServiceName: "commissions-test", Output: io.Discard})
	f.svc, err = NewService(f.repo, repoReader{repo: f.listings}, f.alerts, logg)
	require.NoError(t, err)
	return f
}

// createListing stores an active listing; createDraft leaves the status at
// its draft default.
func (f *fixture) createListing(t *testing.T, commission *listing.CommissionForm) uuid.UUID {
	t.Helper()
	return f.insertListing(t, "active", commission)
}

func (f *fixture) createDraft(t *testing.T, commission *listing.CommissionForm) uuid.UUID {
	t.Helper()
	return f.insertListing(t, "", commission)
}

func (f *fixture) insertListing(t *testing.T, status string, commission *listing.CommissionForm) uuid.UUID {
	t.Helper()
	price := decimal.RequireFromString("400000")
	row, err := listing.ToStorage(listing.FormValues{
		Title:        "Mid-century ranch",
		PropertyType: "single_family",
		Status:       status,
		Price:        &price,
		Commission:   commission,
	}, f.owner, f.listings.Shape())
	require.NoError(t, err)
	id, err := f.listings.Insert(context.Background(), row)
	require.NoError(t, err)
	return id
}

func (f *fixture) loadListing(t *testing.T, id uuid.UUID) *listing.Listing {
	t.Helper()
	l, err := repoReader{repo: f.listings}.Get(context.Background(), id)
	require.NoError(t, err)
	return l
}

func percentage(amount string) AttachInput {
	return AttachInput{Amount: decimal.RequireFromString(amount), Type: enums.CommissionTypePercentage}
}

func requireCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed, "expected typed error, got %v", err)
	assert.Equal(t, code, typed.Code())
}

func TestAttachCreatesDraftPrivateCommission(t *testing.T) {
	f := newFixture(t, listing.ShapeGeo)
	listingID := f.createListing(t, nil)

	input := percentage("2.5")
	input.Terms = "  paid at close "
	input.SplitPercentage = ptr(50.0)
	created, err := f.svc.Attach(context.Background(), listingID, f.owner, input)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, created.ID)
	assert.Equal(t, listingID, created.ListingID)
	assert.Equal(t, enums.CommissionVisibilityPrivate, created.Visibility)
	assert.Equal(t, enums.CommissionStatusDraft, created.Status)
	assert.Equal(t, "paid at close", created.Terms)

	l := f.loadListing(t, listingID)
	require.NotNil(t, l.Commission)
	assert.Equal(t, created.ID, l.Commission.ID)
	assert.Equal(t, "2.5", l.Commission.Amount.String())

	_, err = f.svc.Attach(context.Background(), listingID, f.owner, percentage("3"))
	requireCode(t, err, pkgerrors.CodeConflict)
}

func TestAttachValidatesAmountAgainstType(t *testing.T) {
	f := newFixture(t, listing.ShapeNormalized)
	listingID := f.createListing(t, nil)

	cases := map[string]struct {
		input AttachInput
		field string
	}{
		"percentage over 100": {input: percentage("150"), field: "amount"},
		"zero percentage":     {input: percentage("0"), field: "amount"},
		"flat above price": {
			input: AttachInput{Amount: decimal.RequireFromString("400000.01"), Type: enums.CommissionTypeFlat},
			field: "amount",
		},
		"unknown type": {
			input: AttachInput{Amount: decimal.RequireFromString("1"), Type: enums.CommissionType("barter")},
			field: "type",
		},
		"split out of range": {
			input: AttachInput{Amount: decimal.RequireFromString("3"), Type: enums.CommissionTypePercentage, SplitPercentage: ptr(120.0)},
			field: "split_percentage",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Attach(context.Background(), listingID, f.owner, tc.input)
			requireCode(t, err, pkgerrors.CodeValidation)
			assert.Contains(t, pkgerrors.As(err).Details(), tc.field)
		})
	}

	flat := AttachInput{Amount: decimal.RequireFromString("400000"), Type: enums.CommissionTypeFlat}
	_, err := f.svc.Attach(context.Background(), listingID, f.owner, flat)
	require.NoError(t, err, "a flat fee equal to the price is allowed")
}

func TestAttachRequiresOwnership(t *testing.T) {
	f := newFixture(t, listing.ShapeGeo)
	listingID := f.createListing(t, nil)
	intruder := uuid.New()

	_, err := f.svc.Attach(context.Background(), listingID, intruder, percentage("3"))
	requireCode(t, err, pkgerrors.CodeForbidden)
	require.Len(t, f.alerts.alerts, 1)
	assert.Equal(t, security.AlertOwnershipViolation, f.alerts.alerts[0].Kind)
	assert.Equal(t, intruder, f.alerts.alerts[0].UserID)

	_, err = f.svc.Attach(context.Background(), listingID, uuid.Nil, percentage("3"))
	requireCode(t, err, pkgerrors.CodeUnauthorized)

	_, err = f.svc.Attach(context.Background(), uuid.New(), f.owner, percentage("3"))
	requireCode(t, err, pkgerrors.CodeNotFound)
}

func TestGetAppliesVisibility(t *testing.T) {
	f := newFixture(t, listing.ShapeGeo)
	listingID := f.createListing(t, nil)
	created, err := f.svc.Attach(context.Background(), listingID, f.owner, percentage("3"))
	require.NoError(t, err)

	stranger := Viewer{UserID: uuid.New()}
	verified := Viewer{UserID: uuid.New(), Verified: true}

	got, err := f.svc.Get(context.Background(), listingID, Viewer{UserID: f.owner})
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	_, err = f.svc.Get(context.Background(), listingID, stranger)
	requireCode(t, err, pkgerrors.CodeNotFound)

	_, err = f.svc.SetVisibility(context.Background(), created.ID, f.owner, enums.CommissionVisibilityVerifiedOnly)
	require.NoError(t, err)
	_, err = f.svc.Get(context.Background(), listingID, stranger)
	requireCode(t, err, pkgerrors.CodeNotFound)
	_, err = f.svc.Get(context.Background(), listingID, verified)
	require.NoError(t, err)

	_, err = f.svc.SetVisibility(context.Background(), created.ID, f.owner, enums.CommissionVisibilityPublic)
	require.NoError(t, err)
	_, err = f.svc.Get(context.Background(), listingID, stranger)
	require.NoError(t, err)
}

func TestDraftListingHidesCommissionFromOthers(t *testing.T) {
	f := newFixture(t, listing.ShapeNormalized)
	listingID := f.createDraft(t, nil)
	created, err := f.svc.Attach(context.Background(), listingID, f.owner, percentage("3"))
	require.NoError(t, err)
	_, err = f.svc.SetVisibility(context.Background(), created.ID, f.owner, enums.CommissionVisibilityPublic)
	require.NoError(t, err)

	stranger := Viewer{UserID: uuid.New(), Verified: true}
	_, err = f.svc.Get(context.Background(), listingID, stranger)
	requireCode(t, err, pkgerrors.CodeNotFound)
	_, err = f.svc.Sign(context.Background(), created.ID, stranger)
	requireCode(t, err, pkgerrors.CodeNotFound)

	got, err := f.svc.Get(context.Background(), listingID, Viewer{UserID: f.owner})
	require.NoError(t, err)
	assert.Nil(t, got.SignedBy, "a hidden draft cannot be signed")
}

func TestGetWithoutCommissionIsNotFound(t *testing.T) {
	f := newFixture(t, listing.ShapeNormalized)
	listingID := f.createListing(t, nil)

	_, err := f.svc.Get(context.Background(), listingID, Viewer{UserID: f.owner})
	requireCode(t, err, pkgerrors.CodeNotFound)
}

func TestGetMovesInlineWideCommissionIntoTable(t *testing.T) {
	f := newFixture(t, listing.ShapeWide)
	listingID := f.createListing(t, &listing.CommissionForm{
		Amount: decimal.RequireFromString("6000"),
		Type:   "flat",
		Terms:  "legacy terms",
	})
	_, err := f.repo.FindByListing(context.Background(), listingID)
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)

	first, err := f.svc.Get(context.Background(), listingID, Viewer{UserID: f.owner})
	require.NoError(t, err)
	assert.Equal(t, enums.CommissionTypeFlat, first.Type)
	assert.Equal(t, "6000", first.Amount.String())
	assert.Equal(t, "legacy terms", first.Terms)

	second, err := f.svc.Get(context.Background(), listingID, Viewer{UserID: f.owner})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.NotEqual(t, uuid.Nil, first.ID)

	_, err = f.svc.Attach(context.Background(), listingID, f.owner, percentage("3"))
	requireCode(t, err, pkgerrors.CodeConflict)
}

func TestGetByOtherViewerDoesNotMoveInlineCommission(t *testing.T) {
	f := newFixture(t, listing.ShapeWide)
	listingID := f.createListing(t, &listing.CommissionForm{
		Amount:     decimal.RequireFromString("2.5"),
		Type:       "percentage",
		Visibility: "public",
	})

	got, err := f.svc.Get(context.Background(), listingID, Viewer{UserID: uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, got.ID)
	assert.Equal(t, "2.5", got.Amount.String())
	_, err = f.repo.FindByListing(context.Background(), listingID)
	require.ErrorIs(t, err, gorm.ErrRecordNotFound, "a non-owner read writes nothing")

	owned, err := f.svc.Get(context.Background(), listingID, Viewer{UserID: f.owner})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, owned.ID)
	stored, err := f.repo.FindByListing(context.Background(), listingID)
	require.NoError(t, err)
	assert.Equal(t, owned.ID, stored.ID)
}

func TestSetVisibilityLeavesListingUntouched(t *testing.T) {
	f := newFixture(t, listing.ShapeGeo)
	listingID := f.createListing(t, nil)
	created, err := f.svc.Attach(context.Background(), listingID, f.owner, percentage("3"))
	require.NoError(t, err)
	before := f.loadListing(t, listingID)

	f.repo.now = func() time.Time { return created.UpdatedAt.Add(time.Minute) }
	updated, err := f.svc.SetVisibility(context.Background(), created.ID, f.owner, enums.CommissionVisibilityPublic)
	require.NoError(t, err)

	assert.Equal(t, enums.CommissionVisibilityPublic, updated.Visibility)
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt))
	after := f.loadListing(t, listingID)
	assert.True(t, before.UpdatedAt.Equal(after.UpdatedAt))
	assert.Equal(t, enums.CommissionVisibilityPublic, after.Commission.Visibility)

	_, err = f.svc.SetVisibility(context.Background(), created.ID, f.owner, enums.CommissionVisibility("everyone"))
	requireCode(t, err, pkgerrors.CodeValidation)
	_, err = f.svc.SetVisibility(context.Background(), created.ID, uuid.New(), enums.CommissionVisibilityPrivate)
	requireCode(t, err, pkgerrors.CodeForbidden)
	_, err = f.svc.SetVisibility(context.Background(), uuid.New(), f.owner, enums.CommissionVisibilityPrivate)
	requireCode(t, err, pkgerrors.CodeNotFound)
}

func TestSignIsWriteOnce(t *testing.T) {
	f := newFixture(t, listing.ShapeGeo)
	listingID := f.createListing(t, nil)
	created, err := f.svc.Attach(context.Background(), listingID, f.owner, percentage("3"))
	require.NoError(t, err)

	broker := Viewer{UserID: uuid.New()}
	_, err = f.svc.Sign(context.Background(), created.ID, broker)
	requireCode(t, err, pkgerrors.CodeNotFound)

	_, err = f.svc.SetVisibility(context.Background(), created.ID, f.owner, enums.CommissionVisibilityPublic)
	require.NoError(t, err)
	signed, err := f.svc.Sign(context.Background(), created.ID, broker)
	require.NoError(t, err)
	require.NotNil(t, signed.SignedAt)
	require.NotNil(t, signed.SignedBy)
	assert.Equal(t, broker.UserID, *signed.SignedBy)

	_, err = f.svc.Sign(context.Background(), created.ID, Viewer{UserID: f.owner})
	requireCode(t, err, pkgerrors.CodeStateConflict)

	reloaded, err := f.repo.FindByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, broker.UserID, *reloaded.SignedBy)
	assert.True(t, signed.SignedAt.Equal(*reloaded.SignedAt))
}

func TestLockIsTerminal(t *testing.T) {
	f := newFixture(t, listing.ShapeNormalized)
	listingID := f.createListing(t, nil)
	created, err := f.svc.Attach(context.Background(), listingID, f.owner, percentage("3"))
	require.NoError(t, err)

	locked, err := f.svc.Lock(context.Background(), created.ID, f.owner)
	require.NoError(t, err)
	require.True(t, locked.IsLocked())
	assert.Equal(t, f.owner, *locked.LockedBy)

	_, err = f.svc.Lock(context.Background(), created.ID, f.owner)
	requireCode(t, err, pkgerrors.CodeStateConflict)

	amount := decimal.RequireFromString("4")
	_, err = f.svc.UpdateTerms(context.Background(), created.ID, f.owner, UpdateTermsInput{Amount: &amount})
	requireCode(t, err, pkgerrors.CodeStateConflict)

	require.Len(t, f.alerts.alerts, 2)
	for _, alert := range f.alerts.alerts {
		assert.Equal(t, security.AlertLockedCommissionEdit, alert.Kind)
		assert.Equal(t, created.ID, alert.ResourceID)
	}

	reloaded, err := f.repo.FindByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "3", reloaded.Amount.String())
	assert.True(t, locked.LockedAt.Equal(*reloaded.LockedAt))

	_, err = f.svc.SetVisibility(context.Background(), created.ID, f.owner, enums.CommissionVisibilityPublic)
	require.NoError(t, err, "visibility is independent of the lock")
}

func TestLockRequiresOwnership(t *testing.T) {
	f := newFixture(t, listing.ShapeGeo)
	listingID := f.createListing(t, nil)
	created, err := f.svc.Attach(context.Background(), listingID, f.owner, percentage("3"))
	require.NoError(t, err)

	_, err = f.svc.Lock(context.Background(), created.ID, uuid.New())
	requireCode(t, err, pkgerrors.CodeForbidden)

	reloaded, err := f.repo.FindByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.False(t, reloaded.IsLocked())
}

func TestUpdateTermsRevalidatesMergedTerms(t *testing.T) {
	f := newFixture(t, listing.ShapeGeo)
	listingID := f.createListing(t, nil)
	created, err := f.svc.Attach(context.Background(), listingID, f.owner, percentage("3"))
	require.NoError(t, err)

	flat := enums.CommissionTypeFlat
	_, err = f.svc.UpdateTerms(context.Background(), created.ID, f.owner, UpdateTermsInput{Type: &flat})
	require.NoError(t, err, "3 is a valid flat fee")

	tooMuch := decimal.RequireFromString("500000")
	_, err = f.svc.UpdateTerms(context.Background(), created.ID, f.owner, UpdateTermsInput{Amount: &tooMuch})
	requireCode(t, err, pkgerrors.CodeValidation)

	fee := decimal.RequireFromString("12000")
	approved := enums.CommissionStatusApproved
	terms := "due within 30 days"
	updated, err := f.svc.UpdateTerms(context.Background(), created.ID, f.owner, UpdateTermsInput{
		Amount: &fee,
		Status: &approved,
		Terms:  &terms,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.CommissionTypeFlat, updated.Type)
	assert.Equal(t, "12000", updated.Amount.String())
	assert.Equal(t, enums.CommissionStatusApproved, updated.Status)
	assert.Equal(t, terms, updated.Terms)

	bogus := enums.CommissionStatus("paid")
	_, err = f.svc.UpdateTerms(context.Background(), created.ID, f.owner, UpdateTermsInput{Status: &bogus})
	requireCode(t, err, pkgerrors.CodeValidation)
}

func TestRepositoryConditionalWrites(t *testing.T) {
	f := newFixture(t, listing.ShapeGeo)
	listingID := f.createListing(t, nil)
	created, err := f.repo.Create(context.Background(), newCommission(listingID))
	require.NoError(t, err)

	changed, err := f.repo.Lock(context.Background(), created.ID, f.owner)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = f.repo.Lock(context.Background(), created.ID, uuid.New())
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = f.repo.Update(context.Background(), created.ID, map[string]any{"amount": "9"}, true)
	require.NoError(t, err)
	assert.False(t, changed)
	changed, err = f.repo.Update(context.Background(), created.ID, map[string]any{"visibility": "public"}, false)
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestToViewReportsLock(t *testing.T) {
	row := newCommission(uuid.New())
	assert.False(t, ToView(row).Locked)

	now := time.Now()
	row.LockedAt = &now
	view := ToView(row)
	assert.True(t, view.Locked)
	assert.Equal(t, row.ListingID, view.ListingID)
}

func newCommission(listingID uuid.UUID) *models.Commission {
	return &models.Commission{
		ListingID:  listingID,
		Amount:     decimal.RequireFromString("3"),
		Type:       enums.CommissionTypePercentage,
		Visibility: enums.CommissionVisibilityPrivate,
		Status:     enums.CommissionStatusDraft,
	}
}

func ptr[T any](v T) *T {
	return &v
}
