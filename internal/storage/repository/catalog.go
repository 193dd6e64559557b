package repository

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/culture-survey/backend/internal/kv"
	"github.com/culture-survey/backend/internal/storage/models"
)

type AxisInput struct {
	Name     string
	Type     models.AxisType
	Options  []string
	Required bool
	Order    int
	Category models.AxisCategory
}

func (in AxisInput) axis() models.AnalysisAxis {
	options := in.Options
	if options == nil {
		options = []string{}
	}
	return models.AnalysisAxis{
		Name:     in.Name,
		Type:     in.Type,
		Options:  options,
		Required: in.Required,
		Order:    in.Order,
		Category: in.Category,
	}
}

func (r *Repository) CreateAxis(ctx context.Context, in AxisInput) (*models.AnalysisAxis, error) {
	return r.Axes.Create(ctx, in.axis())
}

// ListAxes returns the global axes ordered by their display order.
func (r *Repository) ListAxes(ctx context.Context) ([]models.AnalysisAxis, error) {
	axes, err := r.Axes.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(axes, func(a, b models.AnalysisAxis) int { return cmp.Compare(a.Order, b.Order) })
	return axes, nil
}

func (r *Repository) UpdateAxis(ctx context.Context, id string, in AxisInput) (*models.AnalysisAxis, error) {
	return r.Axes.Update(ctx, id, func(a *models.AnalysisAxis) error {
		next := in.axis()
		next.ID, next.CreatedAt, next.UpdatedAt = a.ID, a.CreatedAt, r.now()
		*a = next
		return nil
	})
}

// DeleteAxis removes a global axis and its client links. Sessions keep their
// frozen copies.
func (r *Repository) DeleteAxis(ctx context.Context, id string) (bool, error) {
	if _, err := r.ClientAxes.DeleteWhere(ctx, func(a *models.ClientAnalysisAxis) bool { return a.AxisID == id }); err != nil {
		return false, err
	}
	return r.Axes.Delete(ctx, id)
}

// EnableClientAxis links a global axis to a client, optionally overriding its
// display order for that client.
func (r *Repository) EnableClientAxis(ctx context.Context, clientID, axisID string, order *int) (*models.ClientAnalysisAxis, error) {
	axis, err := r.Axes.Get(ctx, axisID)
	if err != nil {
		return nil, err
	}
	if axis == nil {
		return nil, fmt.Errorf("%w: axis %s does not exist", ErrInvalid, axisID)
	}
	return r.ClientAxes.Create(ctx, models.ClientAnalysisAxis{
		ClientID: clientID,
		AxisID:   axisID,
		Enabled:  true,
		Order:    order,
	})
}

// CreateClientSpecificAxis adds an axis owned by one client. sourceAxisID
// records the global axis it was copied from, if any.
func (r *Repository) CreateClientSpecificAxis(ctx context.Context, clientID string, in AxisInput, sourceAxisID *string) (*models.ClientSpecificAxis, error) {
	client, err := r.Clients.Get(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, fmt.Errorf("%w: client %s does not exist", ErrInvalid, clientID)
	}
	return r.ClientSpecificAxes.Create(ctx, models.ClientSpecificAxis{
		AnalysisAxis: in.axis(),
		ClientID:     clientID,
		SourceAxisID: sourceAxisID,
	})
}

type QuestionInput struct {
	Text     string
	Domaine  string
	Order    int
	IsActive bool
}

// CreateQuestion assigns the next numeric id.
func (r *Repository) CreateQuestion(ctx context.Context, in QuestionInput) (*models.Question, error) {
	return r.Questions.Create(ctx, models.Question{
		Text:     in.Text,
		Domaine:  in.Domaine,
		Order:    in.Order,
		IsActive: in.IsActive,
	})
}

// ListQuestions returns questions ordered by display order.
func (r *Repository) ListQuestions(ctx context.Context) ([]models.Question, error) {
	questions, err := r.Questions.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(questions, func(a, b models.Question) int { return cmp.Compare(a.Order, b.Order) })
	return questions, nil
}

// PutSetting creates or replaces a setting.
func (r *Repository) PutSetting(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: setting %s: %v", kv.ErrSerialization, key, err)
	}
	setting := models.Setting{Key: key, Value: data, UpdatedAt: r.now()}
	if err := r.validate.Struct(setting); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	return r.Settings.ReplaceWhere(ctx, func(s *models.Setting) bool { return s.Key == key }, []models.Setting{setting})
}

// GetSetting decodes the setting into dest and reports whether it exists.
func (r *Repository) GetSetting(ctx context.Context, key string, dest any) (bool, error) {
	setting, err := r.Settings.Get(ctx, key)
	if err != nil || setting == nil {
		return false, err
	}
	if err := json.Unmarshal(setting.Value, dest); err != nil {
		return false, fmt.Errorf("%w: setting %s: %v", kv.ErrSerialization, key, err)
	}
	return true, nil
}
