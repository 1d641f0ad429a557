package mongopersistence

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// capabilities describes the change stream features supported by the server.
type capabilities struct {
	// PreAndPostImages is true if collections can record the documents
	// before and after each change, which was introduced in MongoDB 6.0.
	PreAndPostImages bool

	// FullDocument is the full-document mode requested from change streams.
	FullDocument options.FullDocument
}

// detectCapabilities inspects the server's version using the buildInfo
// command.
func detectCapabilities(ctx context.Context, db *mongo.Database) (capabilities, error) {
	var info struct {
		VersionArray []int32 `bson:"versionArray"`
	}

	if err := db.RunCommand(
		ctx,
		bson.D{{Key: "buildInfo", Value: 1}},
	).Decode(&info); err != nil {
		return capabilities{}, err
	}

	if len(info.VersionArray) > 0 && info.VersionArray[0] >= 6 {
		return capabilities{
			PreAndPostImages: true,
			FullDocument:     options.WhenAvailable,
		}, nil
	}

	return capabilities{
		FullDocument: options.UpdateLookup,
	}, nil
}
