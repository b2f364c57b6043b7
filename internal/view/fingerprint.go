package view

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"hash"
	"io"
	"math"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/supervision-cli/internal/model"
)

// Fingerprint hashes everything a dataset depends on: builder settings,
// registry and raw rows grouped by submission. Equal fingerprints mean the
// build would produce identical records. Floats are hashed by their bit
// pattern so NaN and infinities hash like any other value.
func (b *Builder) Fingerprint(snap *model.Snapshot) string {
	fw := &fingerprintWriter{h: sha256.New()}
	fw.h.Write(b.settings)

	for _, br := range snap.Registry.All() {
		fw.integer(int64(br.Code))
		fw.str(br.Name)
		fw.str(br.OperatingGroup)
		fw.str(br.State)
		fw.str(br.Municipality)
		if c := br.Coordinates; c != nil {
			fw.float(&c.Lat)
			fw.float(&c.Lng)
		} else {
			fw.float(nil)
			fw.float(nil)
		}
	}
	writeSeparator(fw.h)
	for _, sub := range model.GroupSubmissions(snap.Rows) {
		for _, r := range sub.Rows {
			fw.str(r.SubmissionID)
			fw.str(r.RawBranchName)
			fw.str(r.AreaName)
			fw.float(r.PointsPossible)
			fw.float(r.PointsObtained)
			fw.float(r.Percentage)
			fw.timestamp(r.SupervisedAt)
			fw.str(r.ReportedGroup)
			fw.str(r.ReportedState)
			fw.integer(int64(len(r.Warnings)))
			for _, w := range r.Warnings {
				fw.str(w)
			}
		}
	}
	return hex.EncodeToString(fw.h.Sum(nil))
}

// fingerprintWriter writes length-prefixed fields so adjacent values
// cannot collide.
type fingerprintWriter struct {
	h   hash.Hash
	buf [8]byte
}

func (w *fingerprintWriter) u64(v uint64) {
	binary.BigEndian.PutUint64(w.buf[:], v)
	w.h.Write(w.buf[:])
}

func (w *fingerprintWriter) integer(v int64) {
	w.u64(uint64(v))
}

func (w *fingerprintWriter) str(s string) {
	w.u64(uint64(len(s)))
	io.WriteString(w.h, s) //nolint:errcheck
}

func (w *fingerprintWriter) float(v *float64) {
	if v == nil {
		w.h.Write([]byte{0})
		return
	}
	w.h.Write([]byte{1})
	w.u64(math.Float64bits(*v))
}

func (w *fingerprintWriter) timestamp(t time.Time) {
	if t.IsZero() {
		w.h.Write([]byte{0})
		return
	}
	w.h.Write([]byte{1})
	w.integer(t.UnixNano())
}

// settingsKey serializes the configuration that influences record content.
func settingsKey(cfg Config) ([]byte, error) {
	key := struct {
		AliasVersion    string
		Aliases         any
		CalendarVersion string
		Calendar        any
		Timezone        string
		Resolver        any
		Rules           any
		Score           any
	}{
		Aliases:  cfg.Aliases,
		Resolver: cfg.Resolver,
		Rules:    cfg.Rules,
		Score:    cfg.Score,
	}
	if cfg.Aliases != nil {
		key.AliasVersion = cfg.Aliases.Version
	}
	if c := cfg.Calendar; c != nil {
		key.CalendarVersion = c.Version()
		key.Timezone = c.Location().String()
		key.Calendar = [][]model.OperatingPeriod{c.Periods(model.ClassLocal), c.Periods(model.ClassForanea)}
	}
	data, err := json.Marshal(key)
	if err != nil {
		return nil, eris.Wrap(err, "view: settings key")
	}
	return data, nil
}

func writeSeparator(h hash.Hash) {
	h.Write([]byte{0})
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
