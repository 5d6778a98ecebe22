package mongostore

import (
	"context"
	"errors"
	"time"

	"github.com/pothole-detector/apiserver/internal/store"
	"github.com/pothole-detector/apiserver/types"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type locationDoc struct {
	Latitude  float64 `bson:"latitude"`
	Longitude float64 `bson:"longitude"`
	Address   string  `bson:"address"`
}

type reportDoc struct {
	ID                        primitive.ObjectID `bson:"_id,omitempty"`
	UserID                    primitive.ObjectID `bson:"userId"`
	ImageURL                  string             `bson:"imageUrl"`
	Location                  locationDoc        `bson:"location"`
	DetectionResultPercentage float64            `bson:"detectionResultPercentage"`
	CreatedAt                 time.Time          `bson:"createdAt"`
}

func (d reportDoc) toReport() types.Report {
	return types.Report{
		ID:       d.ID.Hex(),
		UserID:   d.UserID.Hex(),
		ImageURL: d.ImageURL,
		Location: types.Location{
			Latitude:  d.Location.Latitude,
			Longitude: d.Location.Longitude,
			Address:   d.Location.Address,
		},
		DetectionResultPercentage: d.DetectionResultPercentage,
		CreatedAt:                 d.CreatedAt,
	}
}

// ReportRepository handles persistence for reports in the reports collection.
type ReportRepository struct {
	coll *mongo.Collection
}

func (r *ReportRepository) Create(ctx context.Context, report types.Report) (types.Report, error) {
	userID, ok := parseObjectID(report.UserID)
	if !ok {
		return types.Report{}, errors.New("invalid user id")
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now().UTC()
	}

	doc := reportDoc{
		ID:       primitive.NewObjectID(),
		UserID:   userID,
		ImageURL: report.ImageURL,
		Location: locationDoc{
			Latitude:  report.Location.Latitude,
			Longitude: report.Location.Longitude,
			Address:   report.Location.Address,
		},
		DetectionResultPercentage: report.DetectionResultPercentage,
		CreatedAt:                 report.CreatedAt,
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return types.Report{}, store.ErrDuplicate
		}
		return types.Report{}, err
	}
	return doc.toReport(), nil
}

// GetForUser returns the report only when it belongs to userID.
func (r *ReportRepository) GetForUser(ctx context.Context, id, userID string) (types.Report, error) {
	oid, ok := parseObjectID(id)
	if !ok {
		return types.Report{}, store.ErrNotFound
	}
	owner, ok := parseObjectID(userID)
	if !ok {
		return types.Report{}, store.ErrNotFound
	}

	var doc reportDoc
	if err := r.coll.FindOne(ctx, bson.M{"_id": oid, "userId": owner}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return types.Report{}, store.ErrNotFound
		}
		return types.Report{}, err
	}
	return doc.toReport(), nil
}

// ListByUser returns the user's reports newest first. A limit below 1 returns all of them.
func (r *ReportRepository) ListByUser(ctx context.Context, userID string, limit int) ([]types.Report, error) {
	owner, ok := parseObjectID(userID)
	if !ok {
		return []types.Report{}, nil
	}

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := r.coll.Find(ctx, bson.M{"userId": owner}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	reports := make([]types.Report, 0)
	for cursor.Next(ctx) {
		var doc reportDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		reports = append(reports, doc.toReport())
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return reports, nil
}

func (r *ReportRepository) CountByUser(ctx context.Context, userID string) (int, error) {
	owner, ok := parseObjectID(userID)
	if !ok {
		return 0, nil
	}
	total, err := r.coll.CountDocuments(ctx, bson.M{"userId": owner})
	if err != nil {
		return 0, err
	}
	return int(total), nil
}
