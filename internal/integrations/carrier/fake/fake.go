package fake

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/BearBump/LockerBox/internal/integrations/carrier"
)

// FakeClient — офлайн "перевозчик" для демо и локального запуска.
// Progress is deterministic per (carrier, track) and advances one stage
// every stageEvery since the first request for that parcel's hash bucket.
type FakeClient struct {
	epoch      time.Time
	stageEvery time.Duration
	now        func() time.Time
}

var stages = []struct {
	text, description string
}{
	{"접수", "운송장 발급이 완료되었습니다"},
	{"집하처리", "택배기사가 상품을 인수하였습니다"},
	{"간선하차", "터미널에 도착하였습니다"},
	{"배송출발", "배송기사가 배송을 시작하였습니다"},
	{"배달완료", "무인택배함에 보관되었습니다"},
}

func New() *FakeClient {
	return &FakeClient{
		epoch:      time.Now().UTC(),
		stageEvery: 2 * time.Hour,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (f *FakeClient) GetTrack(ctx context.Context, carrierID, trackID string) (carrier.TrackResponse, error) {
	if err := ctx.Err(); err != nil {
		return carrier.TrackResponse{}, err
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(carrierID))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(trackID))
	v := h.Sum32()

	// каждая посылка стартует со своего этапа, чтобы демо выглядело живым
	start := int(v % uint32(len(stages)))
	elapsed := int(f.now().Sub(f.epoch) / f.stageEvery)
	reached := start + elapsed
	if reached >= len(stages) {
		reached = len(stages) - 1
	}

	base := f.epoch.Add(-time.Duration(start) * f.stageEvery)
	out := carrier.TrackResponse{
		TrackingNumber: trackID,
		CarrierName:    carrierID,
	}
	for i := 0; i <= reached; i++ {
		out.Progresses = append(out.Progresses, carrier.Progress{
			Time:         base.Add(time.Duration(i) * f.stageEvery),
			StatusText:   stages[i].text,
			LocationName: "LockerBox Hub",
			Description:  stages[i].description,
		})
	}
	if reached < len(stages)-1 {
		eta := base.Add(time.Duration(len(stages)-1) * f.stageEvery)
		out.EstimatedDelivery = &eta
	}
	return out, nil
}
