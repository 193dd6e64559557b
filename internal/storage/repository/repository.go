package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/culture-survey/backend/internal/storage/models"
	"github.com/culture-survey/backend/pkg/logger"
	"github.com/culture-survey/backend/pkg/utils"
)

var (
	// ErrInvalid wraps validation failures and references to missing parents.
	ErrInvalid = errors.New("invalid record")
	// ErrDuplicate is returned when an insert collides with an existing id or
	// uniqueness key.
	ErrDuplicate = errors.New("duplicate record")
	// ErrPartialCascade means a delete removed its target but some dependent
	// rows could not be removed.
	ErrPartialCascade = errors.New("cascade delete incomplete")
)

// Collection keys.
const (
	KeyClients            = "clients"
	KeySessions           = "questionnaire_sessions"
	KeyProfiles           = "respondent_profiles"
	KeyResponses          = "session_responses"
	KeyResults            = "session_results"
	KeyAxes               = "analysis_axes"
	KeyClientAxes         = "client_analysis_axes"
	KeyClientSpecificAxes = "client_specific_axes"
	KeyQuestions          = "questions"
	KeySettings           = "settings"
	KeyDomainAnalysis     = "domain_analysis"
)

const defaultCASAttempts = 5

type Options struct {
	CASAttempts int
	Now         func() time.Time
}

// Repository exposes one typed collection per entity. It holds no cached
// rows: every read goes to the store, so concurrent processes observe each
// other's writes.
type Repository struct {
	store    Store
	validate *validator.Validate
	now      func() time.Time

	questionSeq atomic.Int64

	Clients            *Collection[models.Client]
	Sessions           *Collection[models.QuestionnaireSession]
	Profiles           *Collection[models.RespondentProfile]
	Responses          *Collection[models.SessionResponse]
	Results            *Collection[models.SessionResults]
	DomainAnalyses     *Collection[models.DomainAnalysis]
	Axes               *Collection[models.AnalysisAxis]
	ClientAxes         *Collection[models.ClientAnalysisAxis]
	ClientSpecificAxes *Collection[models.ClientSpecificAxis]
	Questions          *Collection[models.Question]
	Settings           *Collection[models.Setting]
}

// Open builds the repository and loads every collection once. Any collection
// that cannot be read (unreachable backend, corrupt JSON) fails construction.
func Open(ctx context.Context, store Store, opts Options) (*Repository, error) {
	if opts.CASAttempts <= 0 {
		opts.CASAttempts = defaultCASAttempts
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	r := &Repository{
		store:    store,
		validate: validator.New(),
		now:      opts.Now,
	}
	r.buildCollections(opts.CASAttempts)

	var questions []models.Question
	var responses []models.SessionResponse

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		questions, err = r.Questions.List(gctx, nil)
		return err
	})
	g.Go(func() error {
		var err error
		responses, err = r.Responses.List(gctx, nil)
		return err
	})
	for _, c := range r.probes() {
		g.Go(func() error { return c(gctx) })
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to load collections: %w", err)
	}

	var maxID int64
	for _, q := range questions {
		maxID = max(maxID, q.ID)
	}
	for _, resp := range responses {
		maxID = max(maxID, resp.QuestionID)
	}
	r.questionSeq.Store(maxID)

	logger.Info("Repository opened",
		zap.String("store", store.Name()),
		zap.Int64("question_seq", maxID),
	)
	return r, nil
}

func (r *Repository) StoreName() string {
	return r.store.Name()
}

func (r *Repository) buildCollections(casAttempts int) {
	r.Clients = &Collection[models.Client]{
		key: KeyClients, store: r.store, casAttempts: casAttempts,
		idOf: func(c *models.Client) string { return c.ID },
		prepare: func(c *models.Client) {
			c.ID = utils.NewID("client", r.now())
			c.CreatedAt, c.UpdatedAt = r.now(), r.now()
		},
		validate: validateWith[models.Client](r),
	}
	r.Sessions = &Collection[models.QuestionnaireSession]{
		key: KeySessions, store: r.store, casAttempts: casAttempts,
		idOf: func(s *models.QuestionnaireSession) string { return s.ID },
		prepare: func(s *models.QuestionnaireSession) {
			s.ID = utils.NewID("session", r.now())
			s.CreatedAt, s.UpdatedAt = r.now(), r.now()
			if s.ShortURL == "" {
				s.ShortURL = utils.RandomSuffix(shortURLLength)
			}
		},
		onInsert: func(existing []models.QuestionnaireSession, s *models.QuestionnaireSession) error {
			for i := range existing {
				if existing[i].ShortURL == s.ShortURL {
					s.ShortURL = utils.RandomSuffix(shortURLLength)
					break
				}
			}
			return nil
		},
		validate: validateWith[models.QuestionnaireSession](r),
	}
	r.Profiles = &Collection[models.RespondentProfile]{
		key: KeyProfiles, store: r.store, casAttempts: casAttempts,
		idOf: func(p *models.RespondentProfile) string { return p.ID },
		prepare: func(p *models.RespondentProfile) {
			p.ID = utils.NewID("profile", r.now())
			p.CreatedAt = r.now()
			if p.AxisResponses == nil {
				p.AxisResponses = map[string]models.AxisValue{}
			}
		},
		validate:  validateWith[models.RespondentProfile](r),
		immutable: true,
	}
	r.Responses = &Collection[models.SessionResponse]{
		key: KeyResponses, store: r.store, casAttempts: casAttempts,
		idOf: func(resp *models.SessionResponse) string { return resp.ID },
		prepare: func(resp *models.SessionResponse) {
			resp.ID = utils.NewID("response", r.now())
			resp.CreatedAt = r.now()
		},
		onInsert: func(existing []models.SessionResponse, resp *models.SessionResponse) error {
			for i := range existing {
				if existing[i].RespondentProfileID == resp.RespondentProfileID && existing[i].QuestionID == resp.QuestionID {
					return fmt.Errorf("%w: profile %s already answered question %d",
						ErrDuplicate, resp.RespondentProfileID, resp.QuestionID)
				}
			}
			return nil
		},
		validate: validateWith[models.SessionResponse](r),
	}
	r.Results = &Collection[models.SessionResults]{
		key: KeyResults, store: r.store, casAttempts: casAttempts,
		idOf: func(res *models.SessionResults) string { return res.SessionID },
	}
	r.DomainAnalyses = &Collection[models.DomainAnalysis]{
		key: KeyDomainAnalysis, store: r.store, casAttempts: casAttempts,
		idOf: func(d *models.DomainAnalysis) string { return d.SessionID + "/" + d.Domaine },
	}
	r.Axes = &Collection[models.AnalysisAxis]{
		key: KeyAxes, store: r.store, casAttempts: casAttempts,
		idOf: func(a *models.AnalysisAxis) string { return a.ID },
		prepare: func(a *models.AnalysisAxis) {
			a.ID = utils.NewID("axis", r.now())
			a.CreatedAt, a.UpdatedAt = r.now(), r.now()
		},
		validate: validateWith[models.AnalysisAxis](r),
	}
	r.ClientAxes = &Collection[models.ClientAnalysisAxis]{
		key: KeyClientAxes, store: r.store, casAttempts: casAttempts,
		idOf: func(a *models.ClientAnalysisAxis) string { return a.ID },
		prepare: func(a *models.ClientAnalysisAxis) {
			a.ID = utils.NewID("caxis", r.now())
		},
		onInsert: func(existing []models.ClientAnalysisAxis, a *models.ClientAnalysisAxis) error {
			for i := range existing {
				if existing[i].ClientID == a.ClientID && existing[i].AxisID == a.AxisID {
					return fmt.Errorf("%w: axis %s already linked to client %s", ErrDuplicate, a.AxisID, a.ClientID)
				}
			}
			return nil
		},
		validate: validateWith[models.ClientAnalysisAxis](r),
	}
	r.ClientSpecificAxes = &Collection[models.ClientSpecificAxis]{
		key: KeyClientSpecificAxes, store: r.store, casAttempts: casAttempts,
		idOf: func(a *models.ClientSpecificAxis) string { return a.ID },
		prepare: func(a *models.ClientSpecificAxis) {
			a.ID = utils.NewID("csaxis", r.now())
			a.CreatedAt, a.UpdatedAt = r.now(), r.now()
		},
		validate: validateWith[models.ClientSpecificAxis](r),
	}
	r.Questions = &Collection[models.Question]{
		key: KeyQuestions, store: r.store, casAttempts: casAttempts,
		idOf: func(q *models.Question) string { return strconv.FormatInt(q.ID, 10) },
		prepare: func(q *models.Question) {
			q.ID = r.questionSeq.Add(1)
			q.CreatedAt = r.now()
		},
		onInsert: func(existing []models.Question, q *models.Question) error {
			// Another process may have taken the id since this one was seeded.
			var maxID int64
			taken := false
			for i := range existing {
				maxID = max(maxID, existing[i].ID)
				taken = taken || existing[i].ID == q.ID
			}
			if taken {
				q.ID = maxID + 1
				r.observeQuestionID(q.ID)
			}
			return nil
		},
		validate: validateWith[models.Question](r),
	}
	r.Settings = &Collection[models.Setting]{
		key: KeySettings, store: r.store, casAttempts: casAttempts,
		idOf: func(s *models.Setting) string { return s.Key },
	}
}

func (r *Repository) probes() []func(context.Context) error {
	return []func(context.Context) error{
		r.Clients.probe,
		r.Sessions.probe,
		r.Profiles.probe,
		r.Results.probe,
		r.DomainAnalyses.probe,
		r.Axes.probe,
		r.ClientAxes.probe,
		r.ClientSpecificAxes.probe,
		r.Settings.probe,
	}
}

func (r *Repository) observeQuestionID(id int64) {
	for {
		cur := r.questionSeq.Load()
		if id <= cur || r.questionSeq.CompareAndSwap(cur, id) {
			return
		}
	}
}

func validateWith[T any](r *Repository) func(*T) error {
	return func(item *T) error {
		if err := r.validate.Struct(item); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		return nil
	}
}
