package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/xtxerr/invsync/internal/errors"
	"github.com/xtxerr/invsync/internal/group"
	"github.com/xtxerr/invsync/internal/jobs"
	"github.com/xtxerr/invsync/internal/validation"
)

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status     string   `json:"status"`
	ActiveJobs int      `json:"activeJobs"`
	Tags       []string `json:"tags"`
}

// AdHocSyncRequest is the body of POST /sync.
type AdHocSyncRequest struct {
	Target   string   `json:"target"`
	Provider string   `json:"provider"`
	Sources  []string `json:"sources"`
}

// httpError maps engine and catalog errors to HTTP errors.
func httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, errors.ErrJobNotFound),
		errors.Is(err, errors.ErrGroupNotFound),
		errors.Is(err, errors.ErrSourceNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, errors.ErrConcurrentJobRejected),
		errors.Is(err, errors.ErrInvalidTransition),
		errors.Is(err, errors.ErrNotPausable):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, errors.ErrQueueFull),
		errors.Is(err, errors.ErrSubstrateStopped):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.IsValidation(err), errors.Is(err, errors.ErrInvalidParam):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func lookupJob(c echo.Context, engine *jobs.Engine) (*jobs.Job, error) {
	id, err := validation.ParseJobID(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	j, err := engine.Get(id)
	if err != nil {
		return nil, httpError(err)
	}
	return j, nil
}

// HealthHandler reports liveness and the registered job tags.
func HealthHandler(engine *jobs.Engine) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, HealthResponse{
			Status:     "ok",
			ActiveJobs: engine.Active(),
			Tags:       engine.Tags(),
		})
	}
}

// ListJobsHandler lists known jobs, optionally filtered by ?status= and
// ?tag=.
func ListJobsHandler(engine *jobs.Engine) echo.HandlerFunc {
	return func(c echo.Context) error {
		var want *jobs.Status
		if s := c.QueryParam("status"); s != "" {
			st, err := jobs.ParseStatus(s)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, err.Error())
			}
			want = &st
		}
		tag := c.QueryParam("tag")

		out := []jobs.Snapshot{}
		for _, j := range engine.List() {
			snap := j.Snapshot()
			if want != nil && snap.Status != *want {
				continue
			}
			if tag != "" && snap.Tag != tag {
				continue
			}
			out = append(out, snap)
		}
		return c.JSON(http.StatusOK, out)
	}
}

// JobStatsHandler returns job duration statistics.
func JobStatsHandler(engine *jobs.Engine) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, engine.Stats())
	}
}

// GetJobHandler returns one job. ?results=true includes the results of a
// finished job.
func GetJobHandler(engine *jobs.Engine) echo.HandlerFunc {
	return func(c echo.Context) error {
		j, err := lookupJob(c, engine)
		if err != nil {
			return err
		}

		snap := j.Snapshot()
		if withResults, _ := strconv.ParseBool(c.QueryParam("results")); withResults {
			snap.Results = j.Result()
		}
		return c.JSON(http.StatusOK, snap)
	}
}

// KillJobHandler kills a job. Killing a terminal job is a no-op.
func KillJobHandler(engine *jobs.Engine) echo.HandlerFunc {
	return func(c echo.Context) error {
		j, err := lookupJob(c, engine)
		if err != nil {
			return err
		}
		engine.Kill(j)
		return c.JSON(http.StatusOK, j.Snapshot())
	}
}

// PauseJobHandler pauses a running job.
func PauseJobHandler(engine *jobs.Engine) echo.HandlerFunc {
	return func(c echo.Context) error {
		j, err := lookupJob(c, engine)
		if err != nil {
			return err
		}
		if err := engine.Pause(j); err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, j.Snapshot())
	}
}

// ResumeJobHandler resumes a paused job.
func ResumeJobHandler(engine *jobs.Engine) echo.HandlerFunc {
	return func(c echo.Context) error {
		j, err := lookupJob(c, engine)
		if err != nil {
			return err
		}
		if err := engine.Resume(j); err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, j.Snapshot())
	}
}

// RunGroupHandler starts a sync run of a configured group.
func RunGroupHandler(engine *jobs.Engine, catalog Catalog) echo.HandlerFunc {
	return func(c echo.Context) error {
		name := c.Param("name")
		if err := validation.ValidateGroupName(name); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		g, err := catalog.Group(name)
		if err != nil {
			return httpError(err)
		}

		j := jobs.NewSyncJob(g)
		if err := engine.Run(j); err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusAccepted, j.Snapshot())
	}
}

// AdHocSyncHandler starts a sync run of an explicit source selection.
// Without a target the run is admitted on the sources' inventory scopes.
func AdHocSyncHandler(engine *jobs.Engine, catalog Catalog) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req AdHocSyncRequest
		if err := c.Bind(&req); err != nil {
			return err
		}
		if req.Provider == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "provider is required")
		}
		if len(req.Sources) == 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "at least one source is required")
		}

		sources := make([]*group.DataSource, 0, len(req.Sources))
		for _, id := range req.Sources {
			if err := validation.ValidateSourceID(id); err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, err.Error())
			}
			ds, err := catalog.DataSource(id)
			if err != nil {
				return httpError(err)
			}
			sources = append(sources, ds)
		}

		j := jobs.NewAdHocSyncJob(req.Target, req.Provider, sources...)
		if err := engine.Run(j); err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusAccepted, j.Snapshot())
	}
}
