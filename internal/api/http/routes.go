package httpapi

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/irrigation-scheduler/internal/irrigation"
	"github.com/i474232898/irrigation-scheduler/internal/messaging"
	"github.com/i474232898/irrigation-scheduler/internal/scheduler"
	"github.com/i474232898/irrigation-scheduler/internal/weather"
)

var validate = validator.New()

// WeatherChangeHandler runs the event-triggered adjustment pass.
type WeatherChangeHandler interface {
	HandleWeatherChange(ctx context.Context, ev weather.ChangeEvent) (scheduler.PassSummary, error)
}

// Deps are the collaborators the HTTP surface needs.
type Deps struct {
	Store     irrigation.Store
	Locks     *irrigation.KeyedMutex
	Forecasts scheduler.Forecaster
	Stations  []weather.Station
	Adjuster  WeatherChangeHandler
	Events    *messaging.WeatherEvents
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, deps Deps) {
	if deps.Locks == nil {
		deps.Locks = irrigation.NewKeyedMutex()
	}
	if deps.Events == nil {
		deps.Events = messaging.NewWeatherEvents(nil, nil)
	}
	h := &handlers{deps: deps}

	v1 := app.Group("/api/v1")

	programmes := v1.Group("/programmes")
	programmes.Get("/", h.listProgrammes)
	programmes.Post("/", h.createProgramme)
	programmes.Get("/:id", h.getProgramme)
	programmes.Put("/:id", h.updateProgramme)
	programmes.Delete("/:id", h.deleteProgramme)
	programmes.Post("/:id/postpone", h.postponeProgramme)
	programmes.Get("/:id/journal", h.programmeJournal)

	v1.Get("/journal", h.journal)

	v1.Get("/stations", h.listStations)
	v1.Get("/stations/:id/forecasts", h.stationForecasts)

	v1.Post("/events/weather", h.weatherChange)
}

type handlers struct {
	deps Deps
}

// programmeRequest is the body of create and update calls.
type programmeRequest struct {
	ParcelID        int64     `json:"parcelId" validate:"required,gt=0"`
	PlannedAt       time.Time `json:"plannedAt" validate:"required"`
	DurationMinutes int       `json:"durationMinutes" validate:"gte=0"`
	VolumeLiters    float64   `json:"volumeLiters" validate:"gt=0"`
	Status          string    `json:"status,omitempty"`
	// Version, when set on update, must match the stored version.
	Version *int64 `json:"version,omitempty"`
}

func (r programmeRequest) apply(p *irrigation.Programme) error {
	status := irrigation.StatusPlanned
	if r.Status != "" {
		st, err := irrigation.ParseStatus(r.Status)
		if err != nil {
			return err
		}
		status = st
	} else if p.Status != "" {
		status = p.Status
	}
	p.ParcelID = r.ParcelID
	p.PlannedAt = r.PlannedAt.UTC()
	p.DurationMinutes = r.DurationMinutes
	p.VolumeLiters = r.VolumeLiters
	p.Status = status
	return p.Validate()
}

func bindProgramme(c *fiber.Ctx) (programmeRequest, error) {
	var req programmeRequest
	if err := c.BodyParser(&req); err != nil {
		return req, fiber.NewError(fiber.StatusBadRequest, "invalid JSON body: "+err.Error())
	}
	if err := validate.Struct(req); err != nil {
		return req, fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return req, nil
}

// storeError maps domain errors to HTTP errors.
func storeError(err error) error {
	switch {
	case errors.Is(err, irrigation.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, irrigation.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, irrigation.ErrInvalidStatus), errors.Is(err, irrigation.ErrInvalidProgramme):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
}

func (h *handlers) listProgrammes(c *fiber.Ctx) error {
	list, err := h.deps.Store.List(c.UserContext())
	if err != nil {
		return storeError(err)
	}
	if raw := c.Query("status"); raw != "" {
		st, err := irrigation.ParseStatus(raw)
		if err != nil {
			return storeError(err)
		}
		filtered := list[:0]
		for _, p := range list {
			if p.Status == st {
				filtered = append(filtered, p)
			}
		}
		list = filtered
	}
	if list == nil {
		list = []irrigation.Programme{}
	}
	return c.JSON(list)
}

func (h *handlers) createProgramme(c *fiber.Ctx) error {
	req, err := bindProgramme(c)
	if err != nil {
		return err
	}
	var p irrigation.Programme
	if err := req.apply(&p); err != nil {
		return storeError(err)
	}
	created, err := h.deps.Store.Create(c.UserContext(), p)
	if err != nil {
		return storeError(err)
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *handlers) getProgramme(c *fiber.Ctx) error {
	p, err := h.deps.Store.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return storeError(err)
	}
	return c.JSON(p)
}

func (h *handlers) updateProgramme(c *fiber.Ctx) error {
	req, err := bindProgramme(c)
	if err != nil {
		return err
	}
	id := c.Params("id")
	unlock := h.deps.Locks.Lock(id)
	defer unlock()

	p, err := h.deps.Store.Get(c.UserContext(), id)
	if err != nil {
		return storeError(err)
	}
	if req.Version != nil && *req.Version != p.Version {
		return fiber.NewError(fiber.StatusConflict, "programme was modified since version "+strconv.FormatInt(*req.Version, 10))
	}
	if err := req.apply(&p); err != nil {
		return storeError(err)
	}
	saved, err := h.deps.Store.Save(c.UserContext(), p)
	if err != nil {
		return storeError(err)
	}
	return c.JSON(saved)
}

func (h *handlers) deleteProgramme(c *fiber.Ctx) error {
	id := c.Params("id")
	unlock := h.deps.Locks.Lock(id)
	defer unlock()

	if err := h.deps.Store.Delete(c.UserContext(), id); err != nil {
		return storeError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type postponeRequest struct {
	PlannedAt time.Time `json:"plannedAt" validate:"required"`
}

// postponeProgramme moves a pending programme to a new time and marks it
// REPLANNED.
func (h *handlers) postponeProgramme(c *fiber.Ctx) error {
	var req postponeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid JSON body: "+err.Error())
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	id := c.Params("id")
	unlock := h.deps.Locks.Lock(id)
	defer unlock()

	p, err := h.deps.Store.Get(c.UserContext(), id)
	if err != nil {
		return storeError(err)
	}
	if p.Status.Terminal() {
		return fiber.NewError(fiber.StatusConflict, "programme is "+string(p.Status)+" and cannot be postponed")
	}
	p.PlannedAt = req.PlannedAt.UTC()
	p.Status = irrigation.StatusReplanned
	saved, err := h.deps.Store.Save(c.UserContext(), p)
	if err != nil {
		return storeError(err)
	}
	return c.JSON(saved)
}

func (h *handlers) programmeJournal(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := h.deps.Store.Get(c.UserContext(), id); err != nil {
		return storeError(err)
	}
	return h.writeJournal(c, id)
}

func (h *handlers) journal(c *fiber.Ctx) error {
	return h.writeJournal(c, "")
}

func (h *handlers) writeJournal(c *fiber.Ctx, programmeID string) error {
	entries, err := h.deps.Store.Journal(c.UserContext(), programmeID)
	if err != nil {
		return storeError(err)
	}
	if entries == nil {
		entries = []irrigation.JournalEntry{}
	}
	return c.JSON(entries)
}

func (h *handlers) listStations(c *fiber.Ctx) error {
	stations := h.deps.Stations
	if stations == nil {
		stations = []weather.Station{}
	}
	return c.JSON(stations)
}

type forecastView struct {
	weather.DailyForecast
	Advice irrigation.Advice `json:"advice"`
}

func (h *handlers) stationForecasts(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "station id must be an integer")
	}
	st, found := h.station(id)
	if !found {
		return fiber.NewError(fiber.StatusNotFound, "unknown station")
	}

	var fs []weather.DailyForecast
	if strings.EqualFold(c.Query("refresh"), "true") {
		fs, err = h.deps.Forecasts.Refresh(c.UserContext(), st)
	} else {
		fs, err = h.deps.Forecasts.Forecasts(c.UserContext(), st)
	}
	if err != nil {
		if errors.Is(err, weather.ErrNoForecast) || errors.Is(err, weather.ErrNoCoordinates) {
			return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
		}
		return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch forecasts")
	}

	views := make([]forecastView, 0, len(fs))
	for _, f := range fs {
		views = append(views, forecastView{DailyForecast: f, Advice: irrigation.Advise(f)})
	}
	return c.JSON(fiber.Map{
		"station":   st,
		"forecasts": views,
	})
}

// weatherChange is the webhook variant of the MQTT weather-change listener.
func (h *handlers) weatherChange(c *fiber.Ctx) error {
	ev, err := h.deps.Events.Decode(c.Body())
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	// Unknown stations are rejected before the event is recorded as seen so
	// a corrected sender can resend the same payload.
	if _, ok := h.station(ev.StationID); !ok {
		return fiber.NewError(fiber.StatusNotFound, fmt.Sprintf("%v: %d", scheduler.ErrUnknownStation, ev.StationID))
	}
	if !h.deps.Events.Fresh(ev) {
		return c.JSON(fiber.Map{"duplicate": true})
	}
	summary, err := h.deps.Adjuster.HandleWeatherChange(c.UserContext(), ev)
	if err != nil {
		h.deps.Events.Forget(ev)
		if errors.Is(err, scheduler.ErrUnknownStation) {
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		}
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.Status(fiber.StatusAccepted).JSON(summary)
}

func (h *handlers) station(id int64) (weather.Station, bool) {
	for _, s := range h.deps.Stations {
		if s.ID == id {
			return s, true
		}
	}
	return weather.Station{}, false
}
