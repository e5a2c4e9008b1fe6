package classifier

// Metrics is an evaluation snapshot on a held-out set, treating 1 (rises) as
// the positive class.
type Metrics struct {
	Samples   int     `msgpack:"samples" json:"samples"`
	Accuracy  float64 `msgpack:"accuracy" json:"accuracy"`
	Precision float64 `msgpack:"precision" json:"precision"`
	Recall    float64 `msgpack:"recall" json:"recall"`
	F1        float64 `msgpack:"f1" json:"f1"`
	// PositiveRate is the share of rises among true labels.
	PositiveRate float64 `msgpack:"positive_rate" json:"positive_rate"`
	TrainSamples int     `msgpack:"train_samples" json:"train_samples"`
}

// Evaluate scores c against labelled rows.
func Evaluate(c Classifier, X [][]float64, y []int) Metrics {
	m := Metrics{Samples: len(X)}
	if len(X) == 0 {
		return m
	}
	var tp, fp, fn, correct, positives int
	for i, row := range X {
		pred := c.Predict(row)
		if pred == y[i] {
			correct++
		}
		if y[i] == 1 {
			positives++
		}
		switch {
		case pred == 1 && y[i] == 1:
			tp++
		case pred == 1 && y[i] == 0:
			fp++
		case pred == 0 && y[i] == 1:
			fn++
		}
	}
	n := float64(len(X))
	m.Accuracy = float64(correct) / n
	m.PositiveRate = float64(positives) / n
	if tp+fp > 0 {
		m.Precision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		m.Recall = float64(tp) / float64(tp+fn)
	}
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	return m
}
