package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/playbridge/internal/shared"
)

// Model defines the base interface for all persistent models.
// Implementations include MigrationJob, SyncRegistration and MatchOverride.
type Model interface {
	Key() string         // Key returns the unique identifier for this model
	Created() time.Time  // Created returns when this model was created
	Validate() error     // Validate checks if the model's data is valid and returns an error if not
	Touch(now time.Time) // Touch records a modification time
}

// Repository defines the interface for data access operations.
// Implementations handle database interactions for specific model types.
type Repository[T Model] interface {
	Create(model T) error                      // Create inserts a new model into the database
	Get(id string) (T, error)                  // Get retrieves a model by its ID
	Update(model T) error                      // Update modifies an existing model in the database
	Delete(id string) error                    // Delete removes a model from the database by its ID
	List(criteria map[string]any) ([]T, error) // List retrieves all models matching the given criteria
}

// Platform is one of the supported streaming catalogs.
type Platform string

const (
	Spotify Platform = "spotify"
	YouTube Platform = "youtube"
)

// Platforms lists every supported platform in a stable order.
func Platforms() []Platform {
	return []Platform{Spotify, YouTube}
}

// ParsePlatform converts user input into a [Platform].
func ParsePlatform(s string) (Platform, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "spotify":
		return Spotify, nil
	case "youtube", "ytmusic", "youtube-music":
		return YouTube, nil
	default:
		return "", fmt.Errorf("%w: %q (must be spotify or youtube)", shared.ErrInvalidPlatform, s)
	}
}

func (p Platform) String() string { return string(p) }

// DisplayName is the human readable platform name.
func (p Platform) DisplayName() string {
	switch p {
	case Spotify:
		return "Spotify"
	case YouTube:
		return "YouTube"
	default:
		return string(p)
	}
}
