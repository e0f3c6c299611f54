// Package walker provides a planar bipedal walker environment built
// on Box2D. A two-legged robot with a hull and motorized hip and knee
// joints must walk to the right end of a track without falling.
package walker

import (
	"fmt"
	"image/color"
	"math"

	"golang.org/x/exp/rand"

	"github.com/ByteArena/box2d"
	"github.com/fogleman/gg"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"
	"gonum.org/v1/gonum/stat/distuv"

	env "github.com/symloco/symloco/environment"
	"github.com/symloco/symloco/symmetry"
	"github.com/symloco/symloco/timestep"
	"github.com/symloco/symloco/utils/floatutils"
)

const (
	FPS float64 = 50

	// speed of game, adjusts forces as well
	Scale float64 = 30.0

	XGravity float64 = 0.0
	YGravity float64 = -10.0

	MotorsTorque float64 = 80.0
	HipSpeed     float64 = 4.0
	KneeSpeed    float64 = 6.0

	LegDown float64 = -8.0 / Scale
	LegW    float64 = 8.0 / Scale
	LegH    float64 = 34.0 / Scale

	ViewportW float64 = 600
	ViewportH float64 = 400

	TerrainStep     float64 = 14.0 / Scale
	TerrainLength   int     = 200
	TerrainHeight   float64 = ViewportH / Scale / 4
	TerrainStartPad int     = 20
	GroundFriction  float64 = 2.5

	// Action
	MaxContinuousAction float64 = 1.0
	MinContinuousAction float64 = -MaxContinuousAction
	ActionDims          int     = 4

	// State observations
	StateObservations int     = 14
	MinAngle          float64 = -math.Pi
	MaxAngle          float64 = math.Pi
	// Box2D limits on velocity: 2.0 units per timestep
	MaxVelocity float64 = 2.0 / (1.0 / FPS)
	MinVelocity float64 = -MaxVelocity

	// Magnitude of the random horizontal force applied to the hull at
	// the start of each episode
	InitialRandom float64 = 5.0
)

var (
	HullPoly [][]float64 = [][]float64{
		{-30, 9},
		{6, 9},
		{34, 1},
		{34, -8},
		{-30, -8},
	}
)

func worldToPixelCoord(coords [2]float64) [2]float64 {
	x, y := coords[0], coords[1]

	pixelX := Scale * x
	pixelY := ViewportH - Scale*y

	return [2]float64{pixelX, pixelY}
}

type contactDetector struct {
	env *walker
}

func newContactDetector(e *walker) *contactDetector {
	return &contactDetector{e}
}

func (c *contactDetector) BeginContact(contact box2d.B2ContactInterface) {
	// The hull touching the ground ends the episode
	if c.env.hull == contact.GetFixtureA().GetBody() ||
		c.env.hull == contact.GetFixtureB().GetBody() {
		c.env.gameOver = true
	}

	for i := range c.env.lowerLegs {
		if c.env.lowerLegs[i] == contact.GetFixtureA().GetBody() ||
			c.env.lowerLegs[i] == contact.GetFixtureB().GetBody() {
			c.env.legGroundContact[i] = true
		}
	}
}

func (c *contactDetector) EndContact(contact box2d.B2ContactInterface) {
	for i := range c.env.lowerLegs {
		if c.env.lowerLegs[i] == contact.GetFixtureA().GetBody() ||
			c.env.lowerLegs[i] == contact.GetFixtureB().GetBody() {
			c.env.legGroundContact[i] = false
		}
	}
}

func (c *contactDetector) PreSolve(contact box2d.B2ContactInterface,
	oldManifold box2d.B2Manifold) {
}

func (c *contactDetector) PostSolve(contact box2d.B2ContactInterface,
	impulse *box2d.B2ContactImpulse) {
}

// walker is the underlying physics simulation. The exported Walker
// wraps it with the environment interface.
type walker struct {
	env.Task

	world box2d.B2World

	terrain       *box2d.B2Body
	terrainShade  color.Color
	skyShade      color.Color
	terrainLength float64

	hull       *box2d.B2Body
	hullColour color.Color

	upperLegs        []*box2d.B2Body
	lowerLegs        []*box2d.B2Body
	hipJoints        []*box2d.B2RevoluteJoint
	kneeJoints       []*box2d.B2RevoluteJoint
	legGroundContact []bool
	legColour        color.Color

	gameOver bool
	seed     uint64
	rng      distuv.Uniform

	actionBounds   r1.Interval
	angleBounds    r1.Interval
	velocityBounds r1.Interval

	prevStep timestep.TimeStep
}

func newWalker(task env.Task, seed uint64) *walker {
	w := &walker{}
	w.world = box2d.MakeB2World(box2d.B2Vec2{X: XGravity, Y: YGravity})

	w.terrainShade = color.RGBA{R: 102, G: 153, B: 76, A: 255}
	w.skyShade = color.RGBA{R: 30, G: 30, B: 30, A: 255}
	w.hullColour = color.RGBA{R: 128, G: 102, B: 230, A: 255}
	w.legColour = color.RGBA{R: 77, G: 77, B: 128, A: 255}

	w.terrainLength = float64(TerrainLength) * TerrainStep

	w.seed = seed
	w.gameOver = false

	src := rand.NewSource(seed)
	w.rng = distuv.Uniform{Min: 0, Max: 1.0, Src: src}

	w.actionBounds = r1.Interval{
		Min: MinContinuousAction,
		Max: MaxContinuousAction,
	}
	w.angleBounds = r1.Interval{Min: MinAngle, Max: MaxAngle}
	w.velocityBounds = r1.Interval{Min: MinVelocity, Max: MaxVelocity}

	t, ok := task.(walkerTask)
	if ok {
		t.registerEnv(w)
		w.Task = t
	} else {
		w.Task = task
	}

	return w
}

func (w *walker) destroy() {
	if w.terrain == nil {
		return
	}
	w.world.SetContactListener(nil)

	w.world.DestroyBody(w.terrain)
	w.terrain = nil

	w.world.DestroyBody(w.hull)
	w.hull = nil

	for i := range w.upperLegs {
		w.world.DestroyBody(w.upperLegs[i])
		w.world.DestroyBody(w.lowerLegs[i])
	}
}

// Reset rebuilds the world and returns the first timestep of a fresh
// episode
func (w *walker) Reset() timestep.TimeStep {
	w.destroy()
	w.world.SetContactListener(newContactDetector(w))
	w.gameOver = false
	w.prevStep = timestep.TimeStep{}

	t, ok := w.Task.(walkerTask)
	if ok {
		t.reset()
	}
	start := w.Start()

	// Terrain: a flat track of edge segments
	terrainDef := box2d.NewB2BodyDef()
	terrainDef.Type = 0 // Static body
	w.terrain = w.world.CreateBody(terrainDef)

	for i := 0; i < TerrainLength-1; i++ {
		edge := box2d.NewB2EdgeShape()
		edge.M_vertex1 = box2d.MakeB2Vec2(float64(i)*TerrainStep,
			TerrainHeight)
		edge.M_vertex2 = box2d.MakeB2Vec2(float64(i+1)*TerrainStep,
			TerrainHeight)

		edgeFixture := box2d.MakeB2FixtureDef()
		edgeFixture.Shape = edge
		edgeFixture.Density = 0.0
		edgeFixture.Friction = GroundFriction
		filter := box2d.MakeB2Filter()
		filter.CategoryBits = 0x0001
		edgeFixture.Filter = filter

		w.terrain.CreateFixtureFromDef(&edgeFixture)
	}

	initialX := TerrainStep * float64(TerrainStartPad) / 2
	initialY := TerrainHeight + 2*LegH

	// Hull
	hullDef := box2d.MakeB2BodyDef()
	hullDef.Type = 2 // Dynamic body
	hullDef.Position = box2d.MakeB2Vec2(initialX, initialY)
	hullDef.Angle = 0.0

	w.hull = w.world.CreateBody(&hullDef)

	hullShape := box2d.NewB2PolygonShape()
	vertices := make([]box2d.B2Vec2, len(HullPoly))
	for i := 0; i < len(HullPoly); i++ {
		vertices[i] = box2d.MakeB2Vec2(
			HullPoly[i][0]/Scale,
			HullPoly[i][1]/Scale,
		)
	}
	hullShape.Set(vertices, len(vertices))

	hullFix := box2d.MakeB2FixtureDef()
	hullFix.Shape = hullShape
	hullFix.Density = 5.0
	hullFix.Friction = 0.1
	hullFix.Restitution = 0.0
	filter := box2d.MakeB2Filter()
	filter.CategoryBits = 0x0020
	filter.MaskBits = 0x001
	hullFix.Filter = filter

	w.hull.CreateFixtureFromDef(&hullFix)

	// Random horizontal push so the first policy steps are not
	// deterministic
	initialForce := start.AtVec(0)
	w.hull.ApplyForceToCenter(box2d.MakeB2Vec2(initialForce, 0.0), true)

	// Legs: upper segment jointed to the hull at the hip, lower
	// segment jointed to the upper at the knee
	w.upperLegs = make([]*box2d.B2Body, 0, 2)
	w.lowerLegs = make([]*box2d.B2Body, 0, 2)
	w.hipJoints = make([]*box2d.B2RevoluteJoint, 0, 2)
	w.kneeJoints = make([]*box2d.B2RevoluteJoint, 0, 2)
	w.legGroundContact = make([]bool, 2)

	for _, i := range []float64{-1.0, 1.0} {
		upperDef := box2d.NewB2BodyDef()
		upperDef.Type = 2 // Dynamic body
		upperDef.Position = box2d.MakeB2Vec2(initialX,
			initialY-LegH/2-LegDown)
		upperDef.Angle = i * 0.05

		upper := w.world.CreateBody(upperDef)
		w.upperLegs = append(w.upperLegs, upper)

		upperShape := box2d.NewB2PolygonShape()
		upperShape.SetAsBox(LegW/2, LegH/2)

		upperFix := box2d.MakeB2FixtureDef()
		upperFix.Shape = upperShape
		upperFix.Density = 1.0
		upperFix.Restitution = 0.0
		filter := box2d.MakeB2Filter()
		filter.CategoryBits = 0x0020
		filter.MaskBits = 0x001
		upperFix.Filter = filter

		upper.CreateFixtureFromDef(&upperFix)

		hip := box2d.MakeB2RevoluteJointDef()
		hip.BodyA = w.hull
		hip.BodyB = upper
		hip.LocalAnchorA = box2d.MakeB2Vec2(0.0, LegDown)
		hip.LocalAnchorB = box2d.MakeB2Vec2(0.0, LegH/2)
		hip.EnableMotor = true
		hip.EnableLimit = true
		hip.MaxMotorTorque = MotorsTorque
		hip.MotorSpeed = i
		hip.LowerAngle = -0.8
		hip.UpperAngle = 1.1
		w.hipJoints = append(w.hipJoints,
			w.world.CreateJoint(&hip).(*box2d.B2RevoluteJoint))

		lowerDef := box2d.NewB2BodyDef()
		lowerDef.Type = 2 // Dynamic body
		lowerDef.Position = box2d.MakeB2Vec2(initialX,
			initialY-LegH*3/2-LegDown)
		lowerDef.Angle = i * 0.05

		lower := w.world.CreateBody(lowerDef)
		w.lowerLegs = append(w.lowerLegs, lower)

		lowerShape := box2d.NewB2PolygonShape()
		lowerShape.SetAsBox(0.8*LegW/2, LegH/2)

		lowerFix := box2d.MakeB2FixtureDef()
		lowerFix.Shape = lowerShape
		lowerFix.Density = 1.0
		lowerFix.Restitution = 0.0
		lowerFix.Filter = filter

		lower.CreateFixtureFromDef(&lowerFix)

		knee := box2d.MakeB2RevoluteJointDef()
		knee.BodyA = upper
		knee.BodyB = lower
		knee.LocalAnchorA = box2d.MakeB2Vec2(0.0, -LegH/2)
		knee.LocalAnchorB = box2d.MakeB2Vec2(0.0, LegH/2)
		knee.EnableMotor = true
		knee.EnableLimit = true
		knee.MaxMotorTorque = MotorsTorque
		knee.MotorSpeed = 1.0
		knee.LowerAngle = -1.6
		knee.UpperAngle = -0.1
		w.kneeJoints = append(w.kneeJoints,
			w.world.CreateJoint(&knee).(*box2d.B2RevoluteJoint))
	}

	step, err := w.Step(mat.NewVecDense(ActionDims, nil))
	if err != nil || step.Last() {
		panic("reset: environment ended as soon as it began")
	}
	step.Type = timestep.First
	step.Reward = 0
	step.Number = 0
	w.prevStep = step

	return step
}

// Step takes one environmental step given a 4-dimensional continuous
// action of hip and knee motor speeds, ordered as (hip1, knee1, hip2,
// knee2). Actions outside [-1, 1] are clipped.
func (w *walker) Step(a mat.Vector) (timestep.TimeStep, error) {
	if a.Len() != ActionDims {
		return timestep.TimeStep{}, fmt.Errorf("step: actions should be "+
			"%v-dimensional \n\thave(%v)", ActionDims, a.Len())
	}

	action := make([]float64, ActionDims)
	for i := 0; i < ActionDims; i++ {
		action[i] = floatutils.ClipInterval(a.AtVec(i), w.actionBounds)
	}

	for leg := 0; leg < 2; leg++ {
		hipAction := action[2*leg]
		kneeAction := action[2*leg+1]

		w.hipJoints[leg].SetMotorSpeed(HipSpeed *
			floatutils.Sign(hipAction))
		w.hipJoints[leg].SetMaxMotorTorque(MotorsTorque *
			math.Abs(hipAction))

		w.kneeJoints[leg].SetMotorSpeed(KneeSpeed *
			floatutils.Sign(kneeAction))
		w.kneeJoints[leg].SetMaxMotorTorque(MotorsTorque *
			math.Abs(kneeAction))
	}

	w.world.Step(1.0/FPS, 6*int(Scale), 2*int(Scale))

	vel := w.hull.GetLinearVelocity()
	state := []float64{
		floatutils.Wrap(w.hull.GetAngle(), w.angleBounds.Min,
			w.angleBounds.Max),
		2.0 * w.hull.GetAngularVelocity() / FPS,
		0.3 * vel.X * (ViewportW / Scale / 2.0) / FPS,
		0.3 * vel.Y * (ViewportH / Scale / 2.0) / FPS,
	}
	for leg := 0; leg < 2; leg++ {
		state = append(state,
			w.hipJoints[leg].GetJointAngle(),
			w.hipJoints[leg].GetJointSpeed()/HipSpeed,
			w.kneeJoints[leg].GetJointAngle(),
			w.kneeJoints[leg].GetJointSpeed()/KneeSpeed,
		)
	}
	for leg := 0; leg < 2; leg++ {
		if w.legGroundContact[leg] {
			state = append(state, 1.0)
		} else {
			state = append(state, 0.0)
		}
	}

	if len(state) != StateObservations {
		panic(fmt.Sprintf("step: illegal number of state observations "+
			"\n\twant(%v) \n\thave(%v)", StateObservations, len(state)))
	}
	stateVec := mat.NewVecDense(StateObservations, state)

	reward := w.GetReward(w.prevStep.Observation, a, stateVec)
	t := timestep.New(timestep.Mid, reward, stateVec, w.prevStep.Number+1)
	if w.AtGoal(stateVec) {
		t.Type = timestep.Last
	}

	w.prevStep = t
	return t, nil
}

// HullX returns the hull's x position in Box2D world units
func (w *walker) HullX() float64 {
	return w.hull.GetPosition().X
}

// IsGameOver returns whether the hull has touched the ground
func (w *walker) IsGameOver() bool {
	return w.gameOver
}

// ObservationSpec returns the observation specification of the
// environment
func (w *walker) ObservationSpec() env.Spec {
	shape := mat.NewVecDense(StateObservations, nil)
	for i := 0; i < StateObservations; i++ {
		shape.SetVec(i, float64(StateObservations))
	}

	lower := mat.NewVecDense(StateObservations, nil)
	upper := mat.NewVecDense(StateObservations, nil)
	for i := 0; i < StateObservations; i++ {
		lower.SetVec(i, w.velocityBounds.Min)
		upper.SetVec(i, w.velocityBounds.Max)
	}
	lower.SetVec(0, w.angleBounds.Min)
	upper.SetVec(0, w.angleBounds.Max)
	for i := StateObservations - 2; i < StateObservations; i++ {
		lower.SetVec(i, 0.0)
		upper.SetVec(i, 1.0)
	}

	return env.NewSpec(shape, env.Observation, lower, upper, env.Continuous)
}

// ActionSpec returns the action specification of the environment
func (w *walker) ActionSpec() env.Spec {
	shape := mat.NewVecDense(ActionDims, nil)
	lower := mat.NewVecDense(ActionDims, nil)
	upper := mat.NewVecDense(ActionDims, nil)
	for i := 0; i < ActionDims; i++ {
		shape.SetVec(i, float64(ActionDims))
		lower.SetVec(i, MinContinuousAction)
		upper.SetVec(i, MaxContinuousAction)
	}

	return env.NewSpec(shape, env.Action, lower, upper, env.Continuous)
}

// MirrorSpec returns the reflection structure of the environment. The
// walker's dynamics are invariant under exchanging its two legs, so
// mirroring swaps the per-leg observation channels and the per-leg
// action channels.
func (w *walker) MirrorSpec() symmetry.MirrorSpec {
	return symmetry.MirrorSpec{
		SwapObsL: []int{4, 5, 6, 7, 12},
		SwapObsR: []int{8, 9, 10, 11, 13},
		SwapActL: []int{0, 1},
		SwapActR: []int{2, 3},
	}
}

// Render draws the current world state to a PNG named by frame j
func (w *walker) Render(j int) error {
	dc := gg.NewContext(int(ViewportW), int(ViewportH))
	dc.SetColor(w.skyShade)
	dc.Clear()

	// Terrain
	dc.ClearPath()
	groundLeft := worldToPixelCoord([2]float64{0, TerrainHeight})
	groundRight := worldToPixelCoord([2]float64{w.terrainLength,
		TerrainHeight})
	dc.MoveTo(groundLeft[0], groundLeft[1])
	dc.LineTo(groundRight[0], groundRight[1])
	dc.LineTo(groundRight[0], ViewportH)
	dc.LineTo(groundLeft[0], ViewportH)
	dc.SetColor(w.terrainShade)
	dc.Fill()

	// Hull and legs
	bodies := []*box2d.B2Body{w.hull}
	colours := []color.Color{w.hullColour}
	for i := range w.upperLegs {
		bodies = append(bodies, w.upperLegs[i], w.lowerLegs[i])
		colours = append(colours, w.legColour, w.legColour)
	}

	for b, body := range bodies {
		fix := body.GetFixtureList()
		for fix != nil {
			shape := fix.M_shape.(*box2d.B2PolygonShape)
			path := make([][2]float64, 0, shape.M_count)
			for i, vertex := range shape.M_vertices {
				if i >= shape.M_count {
					break
				}
				trans := fix.M_body.M_xf
				vertex = box2d.B2TransformVec2Mul(trans, vertex)

				pixelCoords := worldToPixelCoord([2]float64{vertex.X,
					vertex.Y})
				path = append(path, pixelCoords)
			}

			dc.ClearPath()
			for _, point := range path {
				dc.LineTo(point[0], point[1])
			}
			dc.LineTo(path[0][0], path[0][1])

			dc.SetColor(colours[b])
			dc.Fill()
			fix = fix.M_next
		}
	}

	return dc.SavePNG(fmt.Sprintf("./walker%v.png", j))
}
