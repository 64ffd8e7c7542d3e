package handlers

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/transcript-pipeline/internal/events"
	"github.com/codebuildervaibhav/transcript-pipeline/internal/fragments"
	"github.com/codebuildervaibhav/transcript-pipeline/internal/storage"
	"github.com/codebuildervaibhav/transcript-pipeline/internal/store"
	"github.com/codebuildervaibhav/transcript-pipeline/internal/types"
)

// TranscriptHandler serves transcript lifecycle endpoints
type TranscriptHandler struct {
	store            *store.Store
	frags            *fragments.Engine
	hub              *events.Hub
	fragmentLengthCS int64
}

// NewTranscriptHandler creates a new transcript handler
func NewTranscriptHandler(st *store.Store, frags *fragments.Engine, hub *events.Hub, fragmentLengthCS int64) *TranscriptHandler {
	return &TranscriptHandler{
		store:            st,
		frags:            frags,
		hub:              hub,
		fragmentLengthCS: fragmentLengthCS,
	}
}

// Create registers a new transcript awaiting its length
func (h *TranscriptHandler) Create(c *fiber.Ctx) error {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.BodyParser(&req); err != nil || req.Name == "" {
		return badRequest(c, "A transcript name is required", "ERR_NO_NAME")
	}

	var transcript *store.Transcript
	err := h.store.WithTx(func(tx *store.Tx) error {
		var err error
		transcript, err = tx.CreateTranscript(req.Name)
		return err
	})
	if err != nil {
		return fail(c, err)
	}

	log.Printf("Transcript %s created (name: %s)", transcript.ID, transcript.Name)
	h.hub.Publish(events.Event{Type: events.TypeTranscript, TranscriptID: transcript.ID})

	return c.Status(201).JSON(transcriptResponse(transcript))
}

// SetLength records the discovered media length and partitions the
// transcript into fragments. One-shot: a second call fails.
func (h *TranscriptHandler) SetLength(c *fiber.Ctx) error {
	id := c.Params("id")

	var req struct {
		LengthSeconds string `json:"length_seconds"`
	}
	if err := c.BodyParser(&req); err != nil || req.LengthSeconds == "" {
		return badRequest(c, "length_seconds is required", "ERR_NO_LENGTH")
	}
	lengthCS, err := types.ParseSeconds(req.LengthSeconds)
	if err != nil {
		return badRequest(c, err.Error(), "ERR_BAD_LENGTH")
	}

	var created int
	err = h.store.WithTx(func(tx *store.Tx) error {
		transcript, err := tx.GetTranscript(id)
		if err != nil {
			return err
		}
		frags, err := h.frags.CreateFragments(tx, transcript, lengthCS, h.fragmentLengthCS)
		if err != nil {
			return err
		}
		created = len(frags)
		return nil
	})
	if err != nil {
		return fail(c, err)
	}

	log.Printf("Transcript %s length set to %s (%d fragments)",
		id, types.FormatSeconds(lengthCS), created)
	h.hub.Publish(events.Event{Type: events.TypeLengthSet, TranscriptID: id})

	return c.JSON(fiber.Map{
		"transcript_id": id,
		"length":        types.FormatSeconds(lengthCS),
		"fragments":     created,
	})
}

// List returns recent transcripts
func (h *TranscriptHandler) List(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)

	var transcripts []*store.Transcript
	err := h.store.WithTx(func(tx *store.Tx) error {
		var err error
		transcripts, err = tx.ListTranscripts(limit)
		return err
	})
	if err != nil {
		return fail(c, err)
	}

	out := make([]fiber.Map, 0, len(transcripts))
	for _, t := range transcripts {
		out = append(out, transcriptResponse(t))
	}
	return c.JSON(out)
}

// Get returns one transcript with its fragment progress
func (h *TranscriptHandler) Get(c *fiber.Ctx) error {
	id := c.Params("id")

	var transcript *store.Transcript
	var frags []*store.Fragment
	err := h.store.WithTx(func(tx *store.Tx) error {
		var err error
		transcript, err = tx.GetTranscript(id)
		if err != nil {
			return err
		}
		frags, err = tx.FragmentsByTranscript(id)
		return err
	})
	if err != nil {
		return fail(c, err)
	}

	fragmentViews := make([]fiber.Map, 0, len(frags))
	for _, f := range frags {
		fragmentViews = append(fragmentViews, fiber.Map{
			"id":         f.ID,
			"start":      types.FormatSeconds(f.StartCS),
			"end":        types.FormatSeconds(f.EndCS),
			"state":      f.State,
			"lock_state": f.LockState,
		})
	}

	resp := transcriptResponse(transcript)
	resp["fragments"] = fragmentViews
	return c.JSON(resp)
}

// Text returns the current rendition of the transcript's completed
// sentences as plain text
func (h *TranscriptHandler) Text(c *fiber.Ctx) error {
	id := c.Params("id")

	var export *storage.Export
	err := h.store.WithTx(func(tx *store.Tx) error {
		transcript, err := tx.GetTranscript(id)
		if err != nil {
			return err
		}
		export, err = storage.Compose(tx, transcript)
		return err
	})
	if err != nil {
		return fail(c, err)
	}

	return c.SendString(export.Text)
}

// Speakers lists the transcript's known speakers
func (h *TranscriptHandler) Speakers(c *fiber.Ctx) error {
	id := c.Params("id")

	var speakers []*store.Speaker
	err := h.store.WithTx(func(tx *store.Tx) error {
		if _, err := tx.GetTranscript(id); err != nil {
			return err
		}
		var err error
		speakers, err = tx.ListSpeakers(id)
		return err
	})
	if err != nil {
		return fail(c, err)
	}

	out := make([]fiber.Map, 0, len(speakers))
	for _, s := range speakers {
		out = append(out, fiber.Map{"id": s.ID, "name": s.Name})
	}
	return c.JSON(out)
}

func transcriptResponse(t *store.Transcript) fiber.Map {
	resp := fiber.Map{
		"id":           t.ID,
		"name":         t.Name,
		"length_state": t.LengthState,
		"created_at":   t.CreatedAt,
	}
	if t.LengthState == types.LengthSet {
		resp["length"] = types.FormatSeconds(t.LengthCS)
	}
	return resp
}
