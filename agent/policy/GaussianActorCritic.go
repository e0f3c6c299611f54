// Package policy implements the Gaussian actor-critic models consumed
// by the training loop, including the architecturally mirrored
// variants used for symmetric locomotion.
package policy

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/symloco/symloco/initwfn"
	"github.com/symloco/symloco/network"
	"github.com/symloco/symloco/symmetry"
	"github.com/symloco/symloco/utils/floatutils"
)

// For stability, the standard deviation of the Gaussian distribution
// should be offset from 0.
const stdOffset float64 = 1e-3

// GaussianActorCritic is a Gaussian policy with a learned,
// state-independent standard deviation, paired with a state value
// critic. Means are predicted by an MLP; actions are sampled as
// action := μ + σ * ɛ with ɛ ~ N(0, 1).
//
// The model holds three computational graphs. The behaviour graph runs
// the actor and critic together at the parallel-environment batch size
// and is used for action selection during rollout collection. The two
// training graphs run the actor and critic separately at the minibatch
// size and carry the loss and gradient nodes used by the optimizer.
// After an optimization step the updated training weights are copied
// back into the behaviour graph.
//
// The symmetry method chosen at construction decides how the mirror
// specification is baked into the graphs. The net variant averages
// each network evaluation with its evaluation on the mirrored
// observation, mapped back through the action mirror. The net2 variant
// splits the actor into an equivariant branch and an anti-equivariant
// branch built from two separate MLPs. Both architectural variants
// also mirror the critic and tie the standard deviations of paired
// action channels together.
type GaussianActorCritic struct {
	method symmetry.Method
	mirror symmetry.MirrorSpec
	config Config

	obsDim         int
	actDim         int
	behaviourBatch int
	trainBatch     int
	seed           uint64

	normal distmv.Rander

	// Behaviour graph
	bObs      *G.Node
	bActor    network.NeuralNet
	bActor2   network.NeuralNet
	bCritic   network.NeuralNet
	bLogStd   *G.Node
	bVM       G.VM
	bMeanVal  G.Value
	bStdVal   G.Value
	bValueVal G.Value

	// Policy training graph
	pObs        *G.Node
	pActions    *G.Node
	pWeights    *G.Node
	pEntCoef    *G.Node
	pSymCoef    *G.Node
	pActor      network.NeuralNet
	pActor2     network.NeuralNet
	pLogStd     *G.Node
	pVM         G.VM
	pLogPdfVal  G.Value
	pEntropyVal G.Value
	pLearnables G.Nodes
	pModel      []G.ValueGrad

	// Value training graph
	vObs        *G.Node
	vTargets    *G.Node
	vMask       *G.Node
	vCoef       *G.Node
	vCritic     network.NeuralNet
	vVM         G.VM
	vValueVal   G.Value
	vLearnables G.Nodes
	vModel      []G.ValueGrad
}

// actorHead holds the graph nodes shared between the behaviour and
// training constructions of the actor.
type actorHead struct {
	actor  network.NeuralNet
	actor2 network.NeuralNet
	mean   *G.Node
	logStd *G.Node
	stdRow *G.Node
}

// NewGaussianActorCritic returns a new GaussianActorCritic for
// obsDim-dimensional observations and actDim-dimensional continuous
// actions. The behaviourBatch is the number of parallel environments
// the model selects actions for; trainBatch is the minibatch size the
// optimizer will evaluate and backpropagate through. The mirror
// specification may be the zero value when method is the plain one.
func NewGaussianActorCritic(c Config, method symmetry.Method,
	mirror symmetry.MirrorSpec, obsDim, actDim, behaviourBatch,
	trainBatch int, seed uint64) (*GaussianActorCritic, error) {
	if obsDim <= 0 || actDim <= 0 {
		return nil, fmt.Errorf("newgaussianactorcritic: non-positive "+
			"dimensions \n\tobservations(%v) \n\tactions(%v)", obsDim, actDim)
	}
	if behaviourBatch <= 0 || trainBatch <= 0 {
		return nil, fmt.Errorf("newgaussianactorcritic: non-positive batch "+
			"sizes \n\tbehaviour(%v) \n\ttrain(%v)", behaviourBatch, trainBatch)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("newgaussianactorcritic: %v", err)
	}
	if method != symmetry.None {
		if err := mirror.Validate(obsDim, actDim); err != nil {
			return nil, fmt.Errorf("newgaussianactorcritic: %v", err)
		}
	}

	p := &GaussianActorCritic{
		method:         method,
		mirror:         mirror,
		config:         c,
		obsDim:         obsDim,
		actDim:         actDim,
		behaviourBatch: behaviourBatch,
		trainBatch:     trainBatch,
		seed:           seed,
	}
	if err := p.init(); err != nil {
		return nil, fmt.Errorf("newgaussianactorcritic: %v", err)
	}

	return p, nil
}

// init builds the sampler and the three computational graphs on the
// receiver. The graphs register value reads against the receiver's
// own fields, so init must run on the struct that will serve Act and
// Evaluate, never on a copy.
func (p *GaussianActorCritic) init() error {
	// Standard normal for action sampling
	means := make([]float64, p.actDim)
	stds := mat.NewDiagDense(p.actDim, floatutils.Ones(p.actDim))
	source := rand.NewSource(p.seed)
	normal, ok := distmv.NewNormal(means, stds, source)
	if !ok {
		return fmt.Errorf("init: could not create standard normal for " +
			"action sampling")
	}
	p.normal = normal

	if err := p.buildBehaviourGraph(); err != nil {
		return err
	}
	if err := p.buildPolicyGraph(); err != nil {
		return err
	}
	if err := p.buildValueGraph(); err != nil {
		return err
	}

	// The behaviour and training networks are initialized
	// independently, so align them before any action is selected
	if err := p.SyncBehaviour(); err != nil {
		return fmt.Errorf("init: could not sync behaviour weights: %v", err)
	}
	if err := p.SetLossCoefs(0, 0, 1); err != nil {
		return fmt.Errorf("init: could not set loss coefficients: %v", err)
	}

	return nil
}

// buildActorHead adds an actor to g reading from the obs node and
// returns its nodes. The suffix keeps node names distinct between
// graphs.
func (p *GaussianActorCritic) buildActorHead(g *G.ExprGraph, obs *G.Node,
	suffix string) (*actorHead, error) {
	c := p.config

	actor, err := network.NewMLPFromInput(obs, p.actDim, g,
		c.ActorHiddenSizes, c.ActorBiases, c.Init.InitWFn(),
		c.ActorActivations, "Actor", suffix)
	if err != nil {
		return nil, fmt.Errorf("buildactorhead: could not create actor: %v",
			err)
	}

	out, err := c.MeanActivation.Fwd(actor.Prediction())
	if err != nil {
		return nil, fmt.Errorf("buildactorhead: could not squash mean: %v",
			err)
	}

	half := G.NewConstant(0.5)
	mean := out
	var actor2 network.NeuralNet

	switch p.method {
	case symmetry.Net:
		obsMirror := p.mirror.ObsNode(g, p.obsDim)
		actMirror := p.mirror.ActNode(g, p.actDim)

		mPred, err := actor.Fwd(G.Must(G.Mul(obs, obsMirror)))
		if err != nil {
			return nil, fmt.Errorf("buildactorhead: could not evaluate "+
				"mirrored actor: %v", err)
		}
		mOut, err := c.MeanActivation.Fwd(mPred)
		if err != nil {
			return nil, fmt.Errorf("buildactorhead: could not squash "+
				"mirrored mean: %v", err)
		}
		mOut = G.Must(G.Mul(mOut, actMirror))
		mean = G.Must(G.Mul(G.Must(G.Add(out, mOut)), half))

	case symmetry.Net2:
		actor2, err = network.NewMLPFromInput(obs, p.actDim, g,
			c.ActorHiddenSizes, c.ActorBiases, c.Init.InitWFn(),
			c.ActorActivations, "ActorAnti", suffix)
		if err != nil {
			return nil, fmt.Errorf("buildactorhead: could not create "+
				"antisymmetric actor: %v", err)
		}

		obsMirror := p.mirror.ObsNode(g, p.obsDim)
		actMirror := p.mirror.ActNode(g, p.actDim)
		mirroredObs := G.Must(G.Mul(obs, obsMirror))

		// Equivariant branch: ½(f(s) + f(Ms s)·Ma)
		symPred, err := actor.Fwd(mirroredObs)
		if err != nil {
			return nil, fmt.Errorf("buildactorhead: could not evaluate "+
				"mirrored actor: %v", err)
		}
		symOut, err := c.MeanActivation.Fwd(symPred)
		if err != nil {
			return nil, fmt.Errorf("buildactorhead: could not squash "+
				"mirrored mean: %v", err)
		}
		symOut = G.Must(G.Mul(symOut, actMirror))
		symBranch := G.Must(G.Mul(G.Must(G.Add(out, symOut)), half))

		// Anti-equivariant branch: ½(h(s) - h(Ms s)·Ma)
		antiOut, err := c.MeanActivation.Fwd(actor2.Prediction())
		if err != nil {
			return nil, fmt.Errorf("buildactorhead: could not squash "+
				"antisymmetric mean: %v", err)
		}
		antiPred, err := actor2.Fwd(mirroredObs)
		if err != nil {
			return nil, fmt.Errorf("buildactorhead: could not evaluate "+
				"mirrored antisymmetric actor: %v", err)
		}
		antiMirror, err := c.MeanActivation.Fwd(antiPred)
		if err != nil {
			return nil, fmt.Errorf("buildactorhead: could not squash "+
				"mirrored antisymmetric mean: %v", err)
		}
		antiMirror = G.Must(G.Mul(antiMirror, actMirror))
		antiBranch := G.Must(G.Mul(G.Must(G.Sub(antiOut, antiMirror)), half))

		mean = G.Must(G.Add(symBranch, antiBranch))
	}

	// State-independent log standard deviation. Architectural
	// variants average each channel's log std with that of its
	// mirrored channel so paired limbs explore identically.
	logStd := G.NewMatrix(g, tensor.Float64, G.WithShape(1, p.actDim),
		G.WithName("LogStd"+suffix), G.WithInit(G.Zeroes()))
	effLogStd := logStd
	if p.method.Architectural() {
		absMirror := p.mirror.AbsActNode(g, p.actDim)
		tied := G.Must(G.Mul(logStd, absMirror))
		effLogStd = G.Must(G.Mul(G.Must(G.Add(logStd, tied)), half))
	}

	offset := G.NewConstant(stdOffset)
	stdRow := G.Must(G.Add(G.Must(G.Exp(effLogStd)), offset))

	return &actorHead{
		actor:  actor,
		actor2: actor2,
		mean:   mean,
		logStd: logStd,
		stdRow: stdRow,
	}, nil
}

// buildCriticHead adds a critic to g reading from the obs node. The
// value prediction of architecturally mirrored models is the average
// of the critic's evaluation on the observation and its mirror.
func (p *GaussianActorCritic) buildCriticHead(g *G.ExprGraph, obs *G.Node,
	suffix string) (network.NeuralNet, *G.Node, error) {
	c := p.config

	critic, err := network.NewMLPFromInput(obs, 1, g, c.CriticHiddenSizes,
		c.CriticBiases, c.Init.InitWFn(), c.CriticActivations, "Critic",
		suffix)
	if err != nil {
		return nil, nil, fmt.Errorf("buildcritichead: could not create "+
			"critic: %v", err)
	}

	value := critic.Prediction()
	if p.method.MirrorsCritic() {
		obsMirror := p.mirror.ObsNode(g, p.obsDim)
		mValue, err := critic.Fwd(G.Must(G.Mul(obs, obsMirror)))
		if err != nil {
			return nil, nil, fmt.Errorf("buildcritichead: could not "+
				"evaluate mirrored critic: %v", err)
		}
		half := G.NewConstant(0.5)
		value = G.Must(G.Mul(G.Must(G.Add(value, mValue)), half))
	}

	return critic, value, nil
}

// buildBehaviourGraph constructs the action-selection graph at the
// parallel-environment batch size.
func (p *GaussianActorCritic) buildBehaviourGraph() error {
	g := G.NewGraph()

	p.bObs = G.NewMatrix(g, tensor.Float64,
		G.WithShape(p.behaviourBatch, p.obsDim),
		G.WithName("BehaviourObservations"), G.WithInit(G.Zeroes()))

	head, err := p.buildActorHead(g, p.bObs, "Behaviour")
	if err != nil {
		return err
	}
	p.bActor = head.actor
	p.bActor2 = head.actor2
	p.bLogStd = head.logStd

	critic, value, err := p.buildCriticHead(g, p.bObs, "Behaviour")
	if err != nil {
		return err
	}
	p.bCritic = critic

	G.Read(head.mean, &p.bMeanVal)
	G.Read(head.stdRow, &p.bStdVal)
	G.Read(value, &p.bValueVal)

	p.bVM = G.NewTapeMachine(g)
	return nil
}

// buildPolicyGraph constructs the actor training graph at the
// minibatch size. The loss is a per-sample weighted log likelihood
// minus the entropy bonus; the optimizer chooses the weights so that
// the gradient matches the clipped surrogate objective.
func (p *GaussianActorCritic) buildPolicyGraph() error {
	g := G.NewGraph()
	batch := p.trainBatch

	p.pObs = G.NewMatrix(g, tensor.Float64, G.WithShape(batch, p.obsDim),
		G.WithName("TrainObservations"), G.WithInit(G.Zeroes()))
	p.pActions = G.NewMatrix(g, tensor.Float64, G.WithShape(batch, p.actDim),
		G.WithName("TrainActions"), G.WithInit(G.Zeroes()))
	p.pWeights = G.NewVector(g, tensor.Float64, G.WithShape(batch),
		G.WithName("SampleWeights"), G.WithInit(G.Zeroes()))
	p.pEntCoef = G.NewScalar(g, tensor.Float64, G.WithName("EntropyCoef"))
	p.pSymCoef = G.NewScalar(g, tensor.Float64, G.WithName("SymmetryCoef"))

	head, err := p.buildActorHead(g, p.pObs, "Train")
	if err != nil {
		return err
	}
	p.pActor = head.actor
	p.pActor2 = head.actor2
	p.pLogStd = head.logStd

	// Tile the (1, actDim) standard deviation row across the batch by
	// multiplying with a ones column, which keeps everything inside
	// ops that Gorgonia can differentiate
	ones := tensor.NewDense(tensor.Float64, []int{batch, 1},
		tensor.WithBacking(floatutils.Ones(batch)))
	onesCol := G.NewConstant(ones, G.WithName("OnesColumn"))
	stdMat := G.Must(G.Mul(onesCol, head.stdRow))

	// Log probability density of the stored actions under the current
	// Gaussian, one entry per sample
	negativeHalf := G.NewConstant(-0.5)
	halfLog2Pi := G.NewConstant(math.Log(math.Pow(2*math.Pi, 0.5)))

	diff := G.Must(G.Sub(p.pActions, head.mean))
	z := G.Must(G.HadamardDiv(diff, stdMat))
	exponent := G.Must(G.Mul(G.Must(G.HadamardProd(z, z)), negativeHalf))
	terms := G.Must(G.Add(G.Must(G.Log(stdMat)), halfLog2Pi))
	logPdf := G.Must(G.Sum(G.Must(G.Sub(exponent, terms)), 1))
	G.Read(logPdf, &p.pLogPdfVal)

	// Differential entropy of the Gaussian, identical for every state
	// since the standard deviation is state independent
	entConst := G.NewConstant(
		0.5 * float64(p.actDim) * math.Log(2*math.Pi*math.E))
	entropy := G.Must(G.Add(G.Must(G.Sum(G.Must(G.Log(head.stdRow)))),
		entConst))
	G.Read(entropy, &p.pEntropyVal)

	weighted := G.Must(G.HadamardProd(p.pWeights, logPdf))
	loss := G.Must(G.Neg(G.Must(G.Mean(weighted))))
	loss = G.Must(G.Sub(loss, G.Must(G.Mul(p.pEntCoef, entropy))))

	if p.method == symmetry.Loss {
		// Consistency penalty between the mirrored policy output and
		// the policy output on the mirrored observation
		obsMirror := p.mirror.ObsNode(g, p.obsDim)
		actMirror := p.mirror.ActNode(g, p.actDim)

		mPred, err := head.actor.Fwd(G.Must(G.Mul(p.pObs, obsMirror)))
		if err != nil {
			return fmt.Errorf("buildpolicygraph: could not evaluate actor "+
				"on mirrored observations: %v", err)
		}
		mOut, err := p.config.MeanActivation.Fwd(mPred)
		if err != nil {
			return fmt.Errorf("buildpolicygraph: could not squash mirrored "+
				"mean: %v", err)
		}

		symDiff := G.Must(G.Sub(G.Must(G.Mul(head.mean, actMirror)), mOut))
		symSq := G.Must(G.HadamardProd(symDiff, symDiff))
		symLoss := G.Must(G.Mean(G.Must(G.Sum(symSq, 1))))
		loss = G.Must(G.Add(loss, G.Must(G.Mul(p.pSymCoef, symLoss))))
	}

	p.pLearnables = head.actor.Learnables()
	if head.actor2 != nil {
		p.pLearnables = append(p.pLearnables, head.actor2.Learnables()...)
	}
	p.pLearnables = append(p.pLearnables, head.logStd)

	if _, err := G.Grad(loss, p.pLearnables...); err != nil {
		return fmt.Errorf("buildpolicygraph: could not compute gradient: %v",
			err)
	}

	p.pModel = make([]G.ValueGrad, 0, len(p.pLearnables))
	for _, node := range p.pLearnables {
		p.pModel = append(p.pModel, node)
	}

	p.pVM = G.NewTapeMachine(g, G.BindDualValues(p.pLearnables...))
	return nil
}

// buildValueGraph constructs the critic training graph at the
// minibatch size. The per-sample mask zeroes the gradient of samples
// whose conservative value clipping deactivates the update.
func (p *GaussianActorCritic) buildValueGraph() error {
	g := G.NewGraph()
	batch := p.trainBatch

	p.vObs = G.NewMatrix(g, tensor.Float64, G.WithShape(batch, p.obsDim),
		G.WithName("ValueObservations"), G.WithInit(G.Zeroes()))
	p.vTargets = G.NewMatrix(g, tensor.Float64, G.WithShape(batch, 1),
		G.WithName("ValueTargets"), G.WithInit(G.Zeroes()))
	p.vMask = G.NewMatrix(g, tensor.Float64, G.WithShape(batch, 1),
		G.WithName("ValueMask"), G.WithInit(G.Zeroes()))
	p.vCoef = G.NewScalar(g, tensor.Float64, G.WithName("ValueLossCoef"))

	critic, value, err := p.buildCriticHead(g, p.vObs, "Train")
	if err != nil {
		return err
	}
	p.vCritic = critic
	G.Read(value, &p.vValueVal)

	half := G.NewConstant(0.5)
	diff := G.Must(G.Sub(value, p.vTargets))
	squared := G.Must(G.HadamardProd(diff, diff))
	masked := G.Must(G.HadamardProd(p.vMask, squared))
	loss := G.Must(G.Mul(G.Must(G.Mean(masked)), half))
	loss = G.Must(G.Mul(loss, p.vCoef))

	p.vLearnables = critic.Learnables()
	if _, err := G.Grad(loss, p.vLearnables...); err != nil {
		return fmt.Errorf("buildvaluegraph: could not compute gradient: %v",
			err)
	}

	p.vModel = make([]G.ValueGrad, 0, len(p.vLearnables))
	for _, node := range p.vLearnables {
		p.vModel = append(p.vModel, node)
	}

	p.vVM = G.NewTapeMachine(g, G.BindDualValues(p.vLearnables...))
	return nil
}

// Act selects one action per parallel environment. The state and mask
// arguments are accepted for interface compatibility and ignored; the
// model is feedforward.
func (p *GaussianActorCritic) Act(obs, state, mask []float64) ([]float64,
	[]float64, []float64, []float64, error) {
	if len(obs) != p.behaviourBatch*p.obsDim {
		return nil, nil, nil, nil, fmt.Errorf("act: invalid observation "+
			"batch \n\twant(%v) \n\thave(%v)", p.behaviourBatch*p.obsDim,
			len(obs))
	}

	if err := p.runBehaviour(obs); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("act: %v", err)
	}

	means := floatutils.Duplicate(p.bMeanVal.Data().([]float64))
	std := floatutils.Duplicate(p.bStdVal.Data().([]float64))
	values := floatutils.Duplicate(p.bValueVal.Data().([]float64))
	p.bVM.Reset()

	actions := make([]float64, p.behaviourBatch*p.actDim)
	logProbs := make([]float64, p.behaviourBatch)
	for i := 0; i < p.behaviourBatch; i++ {
		eps := p.normal.Rand(nil)
		row := actions[i*p.actDim : (i+1)*p.actDim]
		meanRow := means[i*p.actDim : (i+1)*p.actDim]
		for j := 0; j < p.actDim; j++ {
			row[j] = meanRow[j] + std[j]*eps[j]
		}
		logProbs[i] = gaussianLogPdf(row, meanRow, std)
	}

	return values, actions, logProbs, state, nil
}

// Value predicts the state value for a batch of observations.
func (p *GaussianActorCritic) Value(obs, state, mask []float64) ([]float64,
	error) {
	if len(obs) != p.behaviourBatch*p.obsDim {
		return nil, fmt.Errorf("value: invalid observation batch "+
			"\n\twant(%v) \n\thave(%v)", p.behaviourBatch*p.obsDim, len(obs))
	}
	if err := p.runBehaviour(obs); err != nil {
		return nil, fmt.Errorf("value: %v", err)
	}
	values := floatutils.Duplicate(p.bValueVal.Data().([]float64))
	p.bVM.Reset()
	return values, nil
}

// runBehaviour feeds a batch of observations through the behaviour
// graph.
func (p *GaussianActorCritic) runBehaviour(obs []float64) error {
	obsTensor := tensor.NewDense(tensor.Float64,
		[]int{p.behaviourBatch, p.obsDim},
		tensor.WithBacking(floatutils.Duplicate(obs)))
	if err := G.Let(p.bObs, obsTensor); err != nil {
		return fmt.Errorf("could not set observations: %v", err)
	}
	if err := p.bVM.RunAll(); err != nil {
		p.bVM.Reset()
		return fmt.Errorf("could not run behaviour graph: %v", err)
	}
	return nil
}

// StateSize returns the recurrent state size, which is always 0.
func (p *GaussianActorCritic) StateSize() int { return 0 }

// Features returns the observation dimensionality.
func (p *GaussianActorCritic) Features() int { return p.obsDim }

// ActionDims returns the action dimensionality.
func (p *GaussianActorCritic) ActionDims() int { return p.actDim }

// TrainBatchSize returns the minibatch size the training graphs were
// built for.
func (p *GaussianActorCritic) TrainBatchSize() int { return p.trainBatch }

// MirrorSpec returns the model's reflection structure.
func (p *GaussianActorCritic) MirrorSpec() symmetry.MirrorSpec {
	return p.mirror
}

// SymmetryMethod returns the symmetry method the model was built with.
func (p *GaussianActorCritic) SymmetryMethod() symmetry.Method {
	return p.method
}

// LogStd returns the current log standard deviation of the training
// policy.
func (p *GaussianActorCritic) LogStd() []float64 {
	return floatutils.Duplicate(p.pLogStd.Value().Data().([]float64))
}

// SetLossCoefs sets the entropy, symmetry, and value loss coefficients
// used by the training graphs.
func (p *GaussianActorCritic) SetLossCoefs(entropy, sym,
	value float64) error {
	if err := G.Let(p.pEntCoef, entropy); err != nil {
		return fmt.Errorf("setlosscoefs: could not set entropy "+
			"coefficient: %v", err)
	}
	if err := G.Let(p.pSymCoef, sym); err != nil {
		return fmt.Errorf("setlosscoefs: could not set symmetry "+
			"coefficient: %v", err)
	}
	if err := G.Let(p.vCoef, value); err != nil {
		return fmt.Errorf("setlosscoefs: could not set value loss "+
			"coefficient: %v", err)
	}
	return nil
}

// Evaluate runs the training graphs forward on a minibatch of stored
// observations and actions, returning the log probability of each
// action under the current policy, the current value predictions, and
// the policy entropy. The caller may then compute per-sample gradient
// weights and call Backward.
func (p *GaussianActorCritic) Evaluate(obs, actions []float64) ([]float64,
	[]float64, float64, error) {
	neutral := floatutils.Ones(p.trainBatch)
	targets := make([]float64, p.trainBatch)
	if err := p.Backward(obs, actions, neutral, neutral, targets); err != nil {
		return nil, nil, 0, fmt.Errorf("evaluate: %v", err)
	}
	defer p.EndUpdate()

	logProbs := floatutils.Duplicate(p.pLogPdfVal.Data().([]float64))
	values := floatutils.Duplicate(p.vValueVal.Data().([]float64))
	entropy := p.pEntropyVal.Data().(float64)

	return logProbs, values, entropy, nil
}

// Backward runs the training graphs on a minibatch with the given
// per-sample policy gradient weights, value gradient mask, and value
// targets, leaving gradients bound to the learnables. The caller must
// step a solver over PolicyModel and ValueModel and then call
// EndUpdate.
func (p *GaussianActorCritic) Backward(obs, actions, weights, valueMask,
	targets []float64) error {
	if len(obs) != p.trainBatch*p.obsDim {
		return fmt.Errorf("backward: invalid observation batch "+
			"\n\twant(%v) \n\thave(%v)", p.trainBatch*p.obsDim, len(obs))
	}
	if len(actions) != p.trainBatch*p.actDim {
		return fmt.Errorf("backward: invalid action batch \n\twant(%v) "+
			"\n\thave(%v)", p.trainBatch*p.actDim, len(actions))
	}
	if len(weights) != p.trainBatch || len(valueMask) != p.trainBatch ||
		len(targets) != p.trainBatch {
		return fmt.Errorf("backward: weights, value mask, and targets "+
			"must have one entry per sample \n\twant(%v) \n\thave(%v, %v, %v)",
			p.trainBatch, len(weights), len(valueMask), len(targets))
	}

	feeds := []struct {
		node  *G.Node
		shape []int
		data  []float64
	}{
		{p.pObs, []int{p.trainBatch, p.obsDim}, obs},
		{p.pActions, []int{p.trainBatch, p.actDim}, actions},
		{p.pWeights, []int{p.trainBatch}, weights},
		{p.vObs, []int{p.trainBatch, p.obsDim}, obs},
		{p.vTargets, []int{p.trainBatch, 1}, targets},
		{p.vMask, []int{p.trainBatch, 1}, valueMask},
	}
	for _, feed := range feeds {
		t := tensor.NewDense(tensor.Float64, feed.shape,
			tensor.WithBacking(floatutils.Duplicate(feed.data)))
		if err := G.Let(feed.node, t); err != nil {
			return fmt.Errorf("backward: could not set %v: %v",
				feed.node.Name(), err)
		}
	}

	if err := p.pVM.RunAll(); err != nil {
		return fmt.Errorf("backward: could not run policy graph: %v", err)
	}
	if err := p.vVM.RunAll(); err != nil {
		return fmt.Errorf("backward: could not run value graph: %v", err)
	}
	return nil
}

// EndUpdate resets the training graph VMs after a Backward.
func (p *GaussianActorCritic) EndUpdate() {
	p.pVM.Reset()
	p.vVM.Reset()
}

// TrainLearnables returns the learnable nodes of both training graphs,
// actor first. Gradient norm clipping operates over this combined set.
func (p *GaussianActorCritic) TrainLearnables() G.Nodes {
	nodes := make(G.Nodes, 0, len(p.pLearnables)+len(p.vLearnables))
	nodes = append(nodes, p.pLearnables...)
	nodes = append(nodes, p.vLearnables...)
	return nodes
}

// PolicyModel returns the actor learnables with their gradients.
func (p *GaussianActorCritic) PolicyModel() []G.ValueGrad {
	return p.pModel
}

// ValueModel returns the critic learnables with their gradients.
func (p *GaussianActorCritic) ValueModel() []G.ValueGrad {
	return p.vModel
}

// SyncBehaviour copies the training weights into the behaviour graph
// so that subsequent action selection uses the updated policy.
func (p *GaussianActorCritic) SyncBehaviour() error {
	if err := network.Set(p.bActor, p.pActor); err != nil {
		return fmt.Errorf("syncbehaviour: could not copy actor weights: %v",
			err)
	}
	if p.bActor2 != nil {
		if err := network.Set(p.bActor2, p.pActor2); err != nil {
			return fmt.Errorf("syncbehaviour: could not copy antisymmetric "+
				"actor weights: %v", err)
		}
	}
	if err := network.Set(p.bCritic, p.vCritic); err != nil {
		return fmt.Errorf("syncbehaviour: could not copy critic weights: %v",
			err)
	}

	logStd := p.pLogStd.Value().(*tensor.Dense).Clone().(*tensor.Dense)
	if err := G.Let(p.bLogStd, logStd); err != nil {
		return fmt.Errorf("syncbehaviour: could not copy log std: %v", err)
	}
	return nil
}

// gaussianLogPdf returns the log probability density of action under a
// diagonal Gaussian.
func gaussianLogPdf(action, mean, std []float64) float64 {
	logProb := 0.0
	for j := range action {
		z := (action[j] - mean[j]) / std[j]
		logProb += -0.5*z*z - math.Log(std[j]) -
			0.5*math.Log(2*math.Pi)
	}
	return logProb
}

// GobEncode implements the gob.GobEncoder interface. The encoding
// carries the architecture description and the training weights;
// solver state is not included.
func (p *GaussianActorCritic) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	meta := []interface{}{
		string(p.method), p.mirror, p.obsDim, p.actDim,
		p.behaviourBatch, p.trainBatch, p.seed,
		p.config.ActorHiddenSizes, p.config.ActorBiases,
		p.config.ActorActivations,
		p.config.CriticHiddenSizes, p.config.CriticBiases,
		p.config.CriticActivations, p.config.MeanActivation,
	}
	for _, field := range meta {
		if err := enc.Encode(field); err != nil {
			return nil, fmt.Errorf("gobencode: could not encode model "+
				"description: %v", err)
		}
	}

	for _, learnable := range p.TrainLearnables() {
		data := learnable.Value().Data().([]float64)
		if err := enc.Encode(data); err != nil {
			return nil, fmt.Errorf("gobencode: could not encode learnable "+
				"%v: %v", learnable.Name(), err)
		}
	}

	return buf.Bytes(), nil
}

// GobDecode implements the gob.GobDecoder interface
func (p *GaussianActorCritic) GobDecode(in []byte) error {
	buf := bytes.NewReader(in)
	dec := gob.NewDecoder(buf)

	var methodName string
	var mirror symmetry.MirrorSpec
	var obsDim, actDim, behaviourBatch, trainBatch int
	var seed uint64
	c := Config{MeanActivation: network.Identity()}

	fields := []interface{}{
		&methodName, &mirror, &obsDim, &actDim, &behaviourBatch,
		&trainBatch, &seed,
		&c.ActorHiddenSizes, &c.ActorBiases, &c.ActorActivations,
		&c.CriticHiddenSizes, &c.CriticBiases, &c.CriticActivations,
		c.MeanActivation,
	}
	for _, field := range fields {
		if err := dec.Decode(field); err != nil {
			return fmt.Errorf("gobdecode: could not decode model "+
				"description: %v", err)
		}
	}

	method, err := symmetry.ParseMethod(methodName)
	if err != nil {
		return fmt.Errorf("gobdecode: %v", err)
	}

	// Weights are restored explicitly, so the initializer is
	// irrelevant
	c.Init, err = initwfn.NewZeroes()
	if err != nil {
		return fmt.Errorf("gobdecode: could not create initializer: %v", err)
	}

	if method != symmetry.None {
		if err := mirror.Validate(obsDim, actDim); err != nil {
			return fmt.Errorf("gobdecode: %v", err)
		}
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("gobdecode: %v", err)
	}

	// Rebuild the graphs on the receiver itself. The graphs read
	// their outputs into fields of p, so constructing a fresh model
	// and copying it over would leave those reads bound to the
	// temporary.
	*p = GaussianActorCritic{
		method:         method,
		mirror:         mirror,
		config:         c,
		obsDim:         obsDim,
		actDim:         actDim,
		behaviourBatch: behaviourBatch,
		trainBatch:     trainBatch,
		seed:           seed,
	}
	if err := p.init(); err != nil {
		return fmt.Errorf("gobdecode: could not reconstruct model: %v", err)
	}

	for _, learnable := range p.TrainLearnables() {
		var data []float64
		if err := dec.Decode(&data); err != nil {
			return fmt.Errorf("gobdecode: could not decode learnable %v: %v",
				learnable.Name(), err)
		}
		weights := tensor.NewDense(tensor.Float64, learnable.Shape(),
			tensor.WithBacking(data))
		if err := G.Let(learnable, weights); err != nil {
			return fmt.Errorf("gobdecode: could not set learnable %v: %v",
				learnable.Name(), err)
		}
	}
	if err := p.SyncBehaviour(); err != nil {
		return fmt.Errorf("gobdecode: could not sync behaviour weights: %v",
			err)
	}

	return nil
}
