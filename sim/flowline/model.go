// Package flowline is a small flow-line model built on the sim kernel. Jobs
// are released by a source, visit every station in order and leave into a
// sink. A station is a pool of identical machines fed by a bounded input
// buffer; a machine whose finished job cannot enter the next buffer stays
// blocked until room appears.
package flowline

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/inference-sim/dessim/sim"
	"github.com/sirupsen/logrus"
)

// Unbounded is the buffer size of a station without a buffer limit.
const Unbounded = sim.Unbounded

// Job is one unit of work travelling down the line.
type Job struct {
	ID       int
	Released float64
	Finished float64
	Scrapped bool
}

// FlowTime is the time the job spent in the line.
func (j *Job) FlowTime() float64 { return j.Finished - j.Released }

// Station is a pool of machines with a shared input buffer.
type Station struct {
	cfg      StationConfig
	machines *sim.Resource
	buffer   *sim.Q[*Job]
	rng      *rand.Rand
	scrapRNG *rand.Rand
	service  DurationSampler

	// line hands free machines to waiting jobs in arrival order.
	free *sim.ComputedBool
	line *sim.ConditionQueue

	inUse     int
	lastT     float64
	busyArea  float64
	served    int
	scrapped  int
	maxBuffer int
}

// account integrates machine occupancy over simulated time.
func (st *Station) account(now float64, delta int) {
	st.busyArea += float64(st.inUse) * (now - st.lastT)
	st.lastT = now
	st.inUse += delta
}

func (st *Station) serviceTime() float64 {
	return st.service.Sample(st.rng)
}

// dispatch blocks p until a machine is free and every job that reached the
// station before it got one, then seizes that machine for p.
func (st *Station) dispatch(p *sim.Process) error {
	seized, done := false, false
	st.line.ExecuteWhenTrue(func() {
		seized = st.machines.TrySeize(p)
		done = true
		if p.State() == sim.StatePassive {
			_ = p.Resume()
		}
	})
	for !done {
		if err := p.Suspend(); err != nil {
			return err
		}
	}
	if !seized {
		return fmt.Errorf("dispatch %s at %s: no machine free", p, st.cfg.Name)
	}
	return nil
}

// Model wires a flow line onto a simulator.
type Model struct {
	cfg      Config
	sim      *sim.Simulator
	rng      *sim.PartitionedRNG
	stations []*Station
	sink     *sim.Q[*Job]

	arrivals DurationSampler

	wip     int
	maxWIP  int
	wipOK   *sim.ComputedBool
	release *sim.ConditionQueue

	released int
	finished []*Job
	failed   int
}

// New builds the model. Nothing runs until Run is called.
func New(cfg Config, key sim.SimulationKey) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flow line: %w", err)
	}
	m := &Model{
		cfg:  cfg,
		sim:  sim.New(sim.Config{Name: "flowline", Horizon: cfg.Horizon}),
		rng:  sim.NewPartitionedRNG(key),
		sink: sim.NewQ[*Job]("sink", sim.Unbounded),
	}
	for _, sc := range cfg.Stations {
		machines, err := sim.NewResource(sc.Name, sc.Machines)
		if err != nil {
			return nil, err
		}
		service, err := samplerOrExponential(sc.Service, sc.MeanServiceTime)
		if err != nil {
			return nil, err
		}
		st := &Station{
			cfg:      sc,
			machines: machines,
			buffer:   sim.NewQ[*Job](sc.Name+"/buffer", sc.BufferSize),
			rng:      m.rng.Fork(sc.Name).Stream(sim.StreamService),
			scrapRNG: m.rng.Fork(sc.Name).Stream(sim.StreamScrap),
			service:  service,
		}
		st.free = sim.NewComputedBool(func() bool { return machines.NumAvailable() > 0 })
		st.line = sim.NewConditionQueue(st.free)
		machines.Queue().AddListener(func(ev sim.QueueEvent[*sim.Process]) {
			if ev.Kind == sim.ItemAdded {
				st.account(m.sim.SimTime(), 1)
				return
			}
			st.account(m.sim.SimTime(), -1)
			st.free.Invalidate()
		})
		st.buffer.AddListener(func(ev sim.QueueEvent[*Job]) {
			st.maxBuffer = max(st.maxBuffer, ev.Queue.NumItems())
		})
		m.stations = append(m.stations, st)
	}
	arrivals, err := samplerOrExponential(cfg.Interarrival, cfg.MeanInterarrival)
	if err != nil {
		return nil, err
	}
	m.arrivals = arrivals
	m.wipOK = sim.NewComputedBool(func() bool {
		return m.cfg.WIPLimit == 0 || m.wip < m.cfg.WIPLimit
	})
	m.release = sim.NewConditionQueue(m.wipOK)
	m.sim.AddProcessListener(func(p *sim.Process) {
		if p.State() == sim.StateError {
			m.failed++
		}
	})

	source := sim.NewProcess(m.sim, m.source).SetName("source").SetPriority(sim.PrioHigh)
	if err := source.AwakeAt(m.sim.SimTime()); err != nil {
		return nil, err
	}
	collector := sim.NewProcess(m.sim, m.collect).SetName("sink").SetPriority(sim.PrioLow)
	if err := collector.AwakeAt(m.sim.SimTime()); err != nil {
		return nil, err
	}
	return m, nil
}

// Simulator returns the simulator driving the model, e.g. to attach a trace.
func (m *Model) Simulator() *sim.Simulator { return m.sim }

// Run executes the model until every job left the line or the horizon is
// reached, and reports the results.
func (m *Model) Run() (*Report, error) {
	var err error
	if m.cfg.Horizon > 0 {
		err = m.sim.RunUntil(m.cfg.Horizon)
	} else {
		err = m.sim.Run()
	}
	if err != nil {
		return nil, err
	}
	if m.failed > 0 {
		logrus.Warnf("[t=%.3f] %d processes of the flow line failed", m.sim.SimTime(), m.failed)
	}
	return m.report(), nil
}

// source releases jobs into the line, holding back while the WIP limit is reached.
func (m *Model) source(p *sim.Process) (any, error) {
	rng := m.rng.Stream(sim.StreamArrivals)
	for i := 1; i <= m.cfg.Jobs; i++ {
		if err := m.release.AwaitTrue(p); err != nil {
			return nil, err
		}
		job := &Job{ID: i, Released: m.sim.SimTime()}
		m.wip++
		m.maxWIP = max(m.maxWIP, m.wip)
		m.released++
		jp := sim.NewProcess(m.sim, m.route(job)).SetName(fmt.Sprintf("job-%d", job.ID))
		if err := jp.AwakeAt(m.sim.SimTime()); err != nil {
			return nil, err
		}
		if i < m.cfg.Jobs {
			if err := p.WaitFor(m.arrivals.Sample(rng)); err != nil {
				return nil, err
			}
		}
	}
	logrus.Debugf("[t=%.3f] source released all %d jobs", m.sim.SimTime(), m.cfg.Jobs)
	return m.released, nil
}

// route is the body of a job process: it walks the job through every station.
func (m *Model) route(job *Job) sim.Body {
	return func(p *sim.Process) (any, error) {
		if err := m.stations[0].buffer.Put(p, job); err != nil {
			return nil, err
		}
		for i, st := range m.stations {
			if err := st.dispatch(p); err != nil {
				return nil, err
			}
			if err := st.buffer.Remove(job); err != nil {
				return nil, err
			}
			if err := p.WaitFor(st.serviceTime()); err != nil {
				return nil, err
			}
			st.served++

			next := m.sink
			if st.cfg.ScrapRate > 0 && st.scrapRNG.Float64() < st.cfg.ScrapRate {
				job.Scrapped = true
				st.scrapped++
			} else if i+1 < len(m.stations) {
				next = m.stations[i+1].buffer
			}
			if err := next.Put(p, job); err != nil {
				return nil, err
			}
			if err := st.machines.Release(p); err != nil {
				return nil, err
			}
			if job.Scrapped {
				break
			}
		}
		return job, nil
	}
}

// collect takes jobs out of the sink and records their flow time.
func (m *Model) collect(p *sim.Process) (any, error) {
	for len(m.finished) < m.cfg.Jobs {
		job, err := m.sink.Take(p)
		if err != nil {
			return nil, err
		}
		job.Finished = m.sim.SimTime()
		m.finished = append(m.finished, job)
		m.wip--
		m.wipOK.Invalidate()
		logrus.Tracef("[t=%.3f] job %d left the line after %.3f", job.Finished, job.ID, job.FlowTime())
	}
	return len(m.finished), nil
}

// StationReport holds the results of one station.
type StationReport struct {
	Name        string
	Machines    int
	Served      int
	Scrapped    int
	Utilisation float64
	MaxBuffer   int
}

// Report holds the results of a run.
type Report struct {
	Released     int
	Completed    int
	Scrapped     int
	EndTime      float64
	Throughput   float64
	MeanFlowTime float64
	MaxFlowTime  float64
	MaxWIP       int
	Failed       int
	Events       int64
	Stations     []StationReport
}

func (m *Model) report() *Report {
	now := m.sim.SimTime()
	r := &Report{
		Released: m.released,
		EndTime:  now,
		MaxWIP:   m.maxWIP,
		Failed:   m.failed,
		Events:   m.sim.NumEventsProcessed(),
	}
	total := 0.0
	for _, job := range m.finished {
		if job.Scrapped {
			r.Scrapped++
			continue
		}
		r.Completed++
		total += job.FlowTime()
		r.MaxFlowTime = math.Max(r.MaxFlowTime, job.FlowTime())
	}
	if r.Completed > 0 {
		r.MeanFlowTime = total / float64(r.Completed)
	}
	if now > 0 {
		r.Throughput = float64(r.Completed) / now
	}
	for _, st := range m.stations {
		st.account(now, 0)
		sr := StationReport{
			Name:      st.cfg.Name,
			Machines:  st.cfg.Machines,
			Served:    st.served,
			Scrapped:  st.scrapped,
			MaxBuffer: st.maxBuffer,
		}
		if now > 0 {
			sr.Utilisation = st.busyArea / (float64(st.cfg.Machines) * now)
		}
		r.Stations = append(r.Stations, sr)
	}
	return r
}
