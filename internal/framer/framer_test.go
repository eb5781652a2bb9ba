package framer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iqlab/internal/iqsample"
	"iqlab/internal/iqsource"
)

func memSource(count int) *iqsource.MemorySource {
	samples := make([]iqsample.Sample, count)
	for i := range samples {
		samples[i] = iqsample.Sample{I: float64(i), Q: 0}
	}
	return &iqsource.MemorySource{Samples: samples}
}

func TestNew_RejectsBadSizes(t *testing.T) {
	src := memSource(100)
	_, err := New(src, 100, 10)
	assert.Error(t, err)

	_, err = New(src, 128, 200)
	assert.Error(t, err)

	_, err = New(src, 128, 0)
	assert.Error(t, err)
}

func TestNext_ProducesOverlappingFrames(t *testing.T) {
	src := memSource(20)
	f, err := New(src, 8, 4)
	require.NoError(t, err)

	frame1, ok, err := f.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(0), frame1.Index)
	assert.Equal(t, int64(0), frame1.StartSample)
	assert.Len(t, frame1.Data, 8)

	frame2, ok, err := f.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), frame2.Index)
	assert.Equal(t, int64(4), frame2.StartSample)
	assert.Equal(t, frame1.Data[4:], frame2.Data[:4])
}

func TestNext_ShortStreamProducesNoFrames(t *testing.T) {
	src := memSource(5)
	f, err := New(src, 8, 4)
	require.NoError(t, err)

	_, ok, err := f.Next()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNext_ExhaustsCleanlyAtStreamEnd(t *testing.T) {
	src := memSource(12)
	f, err := New(src, 8, 4)
	require.NoError(t, err)

	count := 0
	for {
		_, ok, err := f.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		count++
	}
	assert.Equal(t, int(Count(12, 8, 4)), count)
}

func TestCount_ClosedForm(t *testing.T) {
	assert.Equal(t, int64(0), Count(4, 8, 4))
	assert.Equal(t, int64(1), Count(8, 8, 4))
	assert.Equal(t, int64(4), Count(20, 8, 4))
}

func TestFrame_StartTime(t *testing.T) {
	frame := Frame{StartSample: 480}
	assert.InDelta(t, 0.01, frame.StartTime(48000), 1e-9)
}
