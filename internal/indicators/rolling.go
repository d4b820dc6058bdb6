package indicators

import "math"

// window 是固定长度的滚动窗口累加器，每次 push 为 O(1)。
// 均值与方差使用 Welford 增量更新；窗口内只要有 NaN，结果即为 NaN。
type window struct {
	period int
	buf    []float64
	next   int
	filled int
	nans   int

	n    float64 // 窗口内有限值个数
	mean float64
	m2   float64

	last float64
	same int // 末尾连续相同值的个数
}

func newWindow(period int) *window {
	return &window{period: period, buf: make([]float64, period), last: math.NaN()}
}

func (w *window) push(x float64) {
	if w.filled == w.period {
		w.remove(w.buf[w.next])
	} else {
		w.filled++
	}
	w.buf[w.next] = x
	w.next = (w.next + 1) % w.period
	w.add(x)

	if !math.IsNaN(x) && x == w.last {
		w.same++
	} else {
		w.same = 1
	}
	w.last = x
}

func (w *window) add(x float64) {
	if math.IsNaN(x) {
		w.nans++
		return
	}
	w.n++
	delta := x - w.mean
	w.mean += delta / w.n
	w.m2 += delta * (x - w.mean)
}

func (w *window) remove(x float64) {
	if math.IsNaN(x) {
		w.nans--
		return
	}
	w.n--
	if w.n <= 0 {
		w.n, w.mean, w.m2 = 0, 0, 0
		return
	}
	delta := x - w.mean
	w.mean -= delta / w.n
	w.m2 -= delta * (x - w.mean)
}

func (w *window) ready() bool {
	return w.filled == w.period && w.nans == 0
}

// Mean 返回窗口均值，窗口未满或含 NaN 时返回 NaN
func (w *window) Mean() float64 {
	if !w.ready() {
		return math.NaN()
	}
	if w.same >= w.period {
		return w.last
	}
	return w.mean
}

// SampleStd 返回样本标准差 (ddof=1)
func (w *window) SampleStd() float64 {
	if !w.ready() || w.period < 2 {
		return math.NaN()
	}
	if w.same >= w.period {
		return 0
	}
	v := w.m2 / (w.n - 1)
	if v < 0 {
		v = 0
	}
	return math.Sqrt(v)
}

// RollingMean 对 x 计算尾随 period 个观测值的简单均值，预热期为 NaN
func RollingMean(x []float64, period int) []float64 {
	out := make([]float64, len(x))
	if period <= 0 {
		fillNaN(out)
		return out
	}
	w := newWindow(period)
	for i, v := range x {
		w.push(v)
		out[i] = w.Mean()
	}
	return out
}

// RollingStd 对 x 计算尾随 period 个观测值的样本标准差，预热期为 NaN
func RollingStd(x []float64, period int) []float64 {
	out := make([]float64, len(x))
	if period <= 0 {
		fillNaN(out)
		return out
	}
	w := newWindow(period)
	for i, v := range x {
		w.push(v)
		out[i] = w.SampleStd()
	}
	return out
}

func fillNaN(x []float64) {
	for i := range x {
		x[i] = math.NaN()
	}
}
