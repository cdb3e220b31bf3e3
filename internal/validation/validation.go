package validation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/dkoval/showtracks/internal/models"
)

const DefaultSongsPerArtist = 3

// SubmitRequest is the submission payload for a playlist build.
type SubmitRequest struct {
	LocationName   string   `json:"location_name" validate:"required,max=200"`
	Lat            float64  `json:"lat" validate:"min=-90,max=90"`
	Lon            float64  `json:"lon" validate:"min=-180,max=180"`
	Date           string   `json:"date" validate:"required"`
	SongsPerArtist int      `json:"songs_per_artist" validate:"min=0,max=10"`
	ExcludedGenres []string `json:"excluded_genres" validate:"max=50,dive,max=100"`
	MinStartTime   int      `json:"min_start_time" validate:"min=0,max=24"`
	MaxStartTime   int      `json:"max_start_time" validate:"min=0,max=24"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var messages []string
	for _, err := range e {
		messages = append(messages, err.Error())
	}
	return strings.Join(messages, "; ")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateSubmit checks a submission and returns the normalized search
// params. Zero songs_per_artist takes the default; an unset max hour means
// end of day.
func ValidateSubmit(req SubmitRequest) (models.SearchParams, ValidationErrors) {
	var errs ValidationErrors

	if err := validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				errs = append(errs, ValidationError{
					Field:   jsonField(fe),
					Message: fieldMessage(fe),
				})
			}
		} else {
			errs = append(errs, ValidationError{Field: "request", Message: err.Error()})
		}
	}

	if req.Date != "" {
		if _, err := time.Parse("2006-01-02", req.Date); err != nil {
			errs = append(errs, ValidationError{Field: "date", Message: "must be a YYYY-MM-DD date"})
		}
	}

	minHour, maxHour := req.MinStartTime, req.MaxStartTime
	if maxHour == 0 {
		maxHour = 24
	}
	if minHour >= maxHour {
		errs = append(errs, ValidationError{Field: "min_start_time", Message: "must be before max_start_time"})
	}

	if len(errs) > 0 {
		return models.SearchParams{}, errs
	}

	songs := req.SongsPerArtist
	if songs == 0 {
		songs = DefaultSongsPerArtist
	}

	return models.SearchParams{
		LocationName:   strings.TrimSpace(req.LocationName),
		Lat:            req.Lat,
		Lon:            req.Lon,
		Date:           req.Date,
		SongsPerArtist: songs,
		ExcludedGenres: req.ExcludedGenres,
		MinStartTime:   minHour,
		MaxStartTime:   maxHour,
	}, nil
}

// jsonField maps the struct field name back to its wire name.
func jsonField(fe validator.FieldError) string {
	switch fe.Field() {
	case "LocationName":
		return "location_name"
	case "Lat":
		return "lat"
	case "Lon":
		return "lon"
	case "Date":
		return "date"
	case "SongsPerArtist":
		return "songs_per_artist"
	case "ExcludedGenres":
		return "excluded_genres"
	case "MinStartTime":
		return "min_start_time"
	case "MaxStartTime":
		return "max_start_time"
	}
	return strings.ToLower(fe.Field())
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	}
	return fmt.Sprintf("failed %s validation", fe.Tag())
}
