package test

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func GetCounterValue(metric prometheus.Counter) (float64, error) {
	var m = &dto.Metric{}
	if err := metric.Write(m); err != nil {
		return 0, err
	}
	return m.Counter.GetValue(), nil
}

func GetCounterVecValue(metric *prometheus.CounterVec, labels ...string) (float64, error) {
	c, err := metric.GetMetricWithLabelValues(labels...)
	if err != nil {
		return 0, err
	}
	return GetCounterValue(c)
}
