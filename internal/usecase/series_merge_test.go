package usecase

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinWindow/internal/domain/models"
	"FinWindow/pkg/date"
)

func TestMergeSeriesReplaceSortsAndDedupes(t *testing.T) {
	d := date.MustParse("2024-03-01")
	existing := daily(d.Add(-100), 5)
	incoming := models.Series{point(d.Add(2), 1), point(d, 2), point(d.Add(2), 3), point(d.Add(1), 4)}

	got := MergeSeries(existing, incoming, MergeReplace)

	assert.Equal(t, []string{"2024-03-01", "2024-03-02", "2024-03-03"}, dates(got))
	assert.Equal(t, "1", got[2].Metric("value").String(), "first occurrence of a duplicate date wins")
}

func TestMergeSeriesAppendExistingWins(t *testing.T) {
	d := date.MustParse("2024-03-01")
	existing := models.Series{point(d, 10), point(d.Add(1), 11)}
	incoming := models.Series{point(d.Add(1), 99), point(d.Add(-1), 9), point(d.Add(2), 12)}

	got := MergeSeries(existing, incoming, MergeAppend)

	assert.Equal(t, []string{"2024-02-29", "2024-03-01", "2024-03-02", "2024-03-03"}, dates(got))
	assert.Equal(t, "11", got[2].Metric("value").String())
}

func TestMergeSeriesRandomSequencesStayNormalized(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	base := date.MustParse("2023-01-01")
	var s models.Series
	for i := 0; i < 200; i++ {
		batch := make(models.Series, rng.Intn(20))
		for j := range batch {
			batch[j] = point(base.Add(rng.Intn(60)), int64(j))
		}
		mode := MergeAppend
		if rng.Intn(5) == 0 {
			mode = MergeReplace
		}
		s = MergeSeries(s, batch, mode)
		require.True(t, s.IsNormalized(), "iteration %d", i)
	}
}

func TestMergeRange(t *testing.T) {
	d := date.MustParse("2024-06-30")
	batch := models.Series{point(d.Add(-5), 1), point(d.Add(-2), 2)}
	existing := &models.DateRange{Start: d.Add(-30), End: d}

	tests := []struct {
		name     string
		existing *models.DateRange
		mode     MergeMode
		start    *date.Date
		end      *date.Date
		batch    models.Series
		want     *models.DateRange
	}{
		{"replace uses requested bounds", existing, MergeReplace, datePtr(d.Add(-10)), datePtr(d), batch, &models.DateRange{Start: d.Add(-10), End: d}},
		{"replace unbounded uses batch edges", existing, MergeReplace, nil, nil, batch, &models.DateRange{Start: d.Add(-5), End: d.Add(-2)}},
		{"replace unbounded empty batch", existing, MergeReplace, nil, nil, nil, nil},
		{"append empty batch widens with request", existing, MergeAppend, datePtr(d.Add(-60)), datePtr(d.Add(-30)), nil, &models.DateRange{Start: d.Add(-60), End: d}},
		{"append narrower keeps existing", existing, MergeAppend, datePtr(d.Add(-20)), datePtr(d.Add(-10)), nil, existing},
		{"append onto nothing", nil, MergeAppend, datePtr(d.Add(-3)), datePtr(d), nil, &models.DateRange{Start: d.Add(-3), End: d}},
		{"one-sided bound", nil, MergeReplace, datePtr(d), nil, nil, &models.DateRange{Start: d, End: d}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MergeRange(tt.existing, tt.mode, tt.start, tt.end, tt.batch))
		})
	}
}

func TestSeriesStoreCompleteFlag(t *testing.T) {
	d := date.MustParse("2024-01-10")
	s := NewSeriesStore()

	n := s.Apply(FetchRequest{Mode: MergeReplace, MarkComplete: true}, daily(d, 5))
	require.Equal(t, 5, n)
	total := s.TotalRange()
	require.True(t, total.Complete)
	assert.Equal(t, d, *total.Start)
	assert.Equal(t, d.Add(4), *total.End)

	s.Apply(FetchRequest{Mode: MergeAppend, Start: datePtr(d.Add(-3)), End: datePtr(d)}, nil)
	assert.True(t, s.TotalRange().Complete, "append keeps completeness")

	s.Apply(FetchRequest{Mode: MergeReplace, Start: datePtr(d), End: datePtr(d.Add(1))}, daily(d, 2))
	n, loaded, total := s.Bounds()
	assert.False(t, total.Complete)
	assert.Equal(t, 2, n)
	assert.Equal(t, d.Add(1), loaded.End)
}

func TestSeriesStoreBoundsConsistentUnderApply(t *testing.T) {
	d := date.MustParse("2024-01-01")
	s := NewSeriesStore()
	s.Apply(FetchRequest{Mode: MergeReplace, Start: datePtr(d), End: datePtr(d.Add(4))}, daily(d, 5))

	stop := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			days := 5 + 15*(i%2)
			s.Apply(FetchRequest{Mode: MergeReplace, Start: datePtr(d), End: datePtr(d.Add(days - 1))}, daily(d, days))
		}
	}()

	for i := 0; i < 2000; i++ {
		n, loaded, _ := s.Bounds()
		require.NotNil(t, loaded)
		require.Equal(t, d.Add(n-1), loaded.End, "point count and loaded range must come from the same state")
	}
	close(stop)
	<-writerDone
}

func TestParseMergeMode(t *testing.T) {
	assert.Equal(t, MergeAppend, ParseMergeMode("append"))
	assert.Equal(t, MergeReplace, ParseMergeMode("replace"))
	assert.Equal(t, MergeReplace, ParseMergeMode(""))
}
