package listing

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/keystonerealty/keystone-backend/internal/location"
	"github.com/keystonerealty/keystone-backend/internal/security"
	"github.com/keystonerealty/keystone-backend/pkg/db"
	"github.com/keystonerealty/keystone-backend/pkg/logger"
	"github.com/keystonerealty/keystone-backend/pkg/migrate"
	"github.com/keystonerealty/keystone-backend/pkg/storage/gcs"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const testBucket = "listing-media"

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, migrate.Up(context.Background(), sqlDB, goose.DialectSQLite3, migrate.Embedded()))
	return conn
}

type fakeResolver struct {
	loc   location.Location
	err   error
	calls int
}

func (f *fakeResolver) Resolve(_ context.Context, _ location.Address) (location.Location, error) {
	f.calls++
	return f.loc, f.err
}

type fakeBlobs struct {
	mu        sync.Mutex
	objects   map[string][]byte
	deleted   []string
	uploadErr error
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: map[string][]byte{}}
}

func (f *fakeBlobs) Upload(_ context.Context, bucket, objectPath, _ string, body io.Reader) (gcs.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return gcs.Object{}, f.uploadErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return gcs.Object{}, err
	}
	f.objects[objectPath] = data
	return gcs.Object{
		Bucket: bucket,
		Path:   objectPath,
		URL:    "https://cdn.test/" + bucket + "/" + objectPath,
		Size:   int64(len(data)),
	}, nil
}

func (f *fakeBlobs) Delete(_ context.Context, _ string, objectPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, objectPath)
	delete(f.objects, objectPath)
	return nil
}

type recordingAlerts struct {
	alerts []security.Alert
}

func (r *recordingAlerts) Report(_ context.Context, alert security.Alert) {
	r.alerts = append(r.alerts, alert)
}

type serviceFixture struct {
	svc      Service
	repo     *Repository
	conn     *gorm.DB
	resolver *fakeResolver
	blobs    *fakeBlobs
	alerts   *recordingAlerts
}

func newServiceFixture(t *testing.T, shape Shape) *serviceFixture {
	t.Helper()
	conn := newTestDB(t)
	client, err := db.NewFromGorm(conn)
	require.NoError(t, err)

	f := &serviceFixture{
		repo:     NewRepository(conn, shape),
		conn:     conn,
		resolver: &fakeResolver{},
		blobs:    newFakeBlobs(),
		alerts:   &recordingAlerts{},
	}
	logg := logger.New(logger.Options{ServiceName: "listings-test", Output: io.Discard})
	f.svc, err = NewService(client, f.repo, f.resolver, f.blobs, f.alerts, logg, ServiceConfig{
		Bucket:         testBucket,
		ObjectPrefix:   "listings",
		MaxImages:      3,
		MaxUploadBytes: 1 << 20,
	})
	require.NoError(t, err)
	return f
}

func (f *serviceFixture) count(t *testing.T, table string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.conn.Table(table).Count(&n).Error)
	return n
}

func imageUpload(name string) ImageUpload {
	body := []byte("fake-image-" + name)
	return ImageUpload{
		Filename:    name + ".jpg",
		ContentType: "image/jpeg",
		SizeBytes:   int64(len(body)),
		Width:       1024,
		Height:      768,
		Body:        bytes.NewReader(body),
	}
}

func documentUpload(name string) DocumentUpload {
	body := []byte("fake-pdf-" + name)
	return DocumentUpload{
		Filename:    name + ".pdf",
		ContentType: "application/pdf",
		SizeBytes:   int64(len(body)),
		Body:        bytes.NewReader(body),
	}
}

// createWithMedia creates form and uploads two images, the first featured,
// and one document through the service.
func (f *serviceFixture) createWithMedia(t *testing.T, owner uuid.UUID, form FormValues) *Listing {
	t.Helper()
	ctx := context.Background()
	created, err := f.svc.Create(ctx, owner, form)
	require.NoError(t, err)
	for _, name := range []string{"a", "b"} {
		_, err := f.svc.AttachImage(ctx, created.ID, owner, imageUpload(name))
		require.NoError(t, err)
	}
	_, err = f.svc.AttachDocument(ctx, created.ID, owner, documentUpload("disclosure"))
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, got.Images, 2)
	require.Len(t, got.Documents, 1)
	return got
}

func decimalPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func ptr[T any](v T) *T {
	return &v
}

func sampleForm() FormValues {
	return FormValues{
		Title:        "Craftsman bungalow",
		Description:  "Walk to the park",
		Slug:         "craftsman-bungalow",
		Status:       "active",
		PropertyType: "single_family",
		ListingType:  "sale",
		Price:        decimalPtr("350000"),
		Address: location.Address{
			StreetNumber: "123",
			StreetName:   "Test St",
			City:         "Austin",
			State:        "TX",
			ZipCode:      "78701",
			Country:      "US",
		},
		Latitude:   30.2672,
		Longitude:  -97.7431,
		SquareFeet: ptr(1850.0),
		Bedrooms:   ptr(3),
		Bathrooms:  ptr(2.5),
		YearBuilt:  ptr(1998),
		Features:   map[string]bool{"pool": true, "garage": true},
		Amenities:  map[string]bool{"gym": true},
		Images: []Image{
			{URL: "https://cdn.test/a.jpg", Path: "listings/a.jpg", MimeType: "image/jpeg", Width: 800, Height: 600, SizeBytes: 1000, IsFeatured: true},
			{URL: "https://cdn.test/b.jpg", Path: "listings/b.jpg", MimeType: "image/jpeg", Width: 800, Height: 600, SizeBytes: 1200, MetaData: map[string]any{"caption": "kitchen"}},
		},
		Documents: []Document{
			{Name: "disclosure.pdf", URL: "https://cdn.test/d.pdf", Path: "listings/d.pdf", Type: "application/pdf", SizeBytes: 2000, UploadedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)},
		},
		MetaData: map[string]any{"source": "mls"},
		Commission: &CommissionForm{
			Amount: decimal.RequireFromString("2.5"),
			Type:   "percentage",
			Terms:  "paid at close",
		},
	}
}

// listingForm is sampleForm without media, which only arrives through
// uploads on the service path.
func listingForm() FormValues {
	form := sampleForm()
	form.Images = nil
	form.Documents = nil
	return form
}
