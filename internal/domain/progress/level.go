package progress

// ══════════════════════════════════════════════════════════════════════════════
// LEVEL RULES
// Формула XP → уровень принадлежит хранилищу. Локально она нужна только тогда,
// когда push-обновление принесло XP без уровня. Авторитетный уровень всегда
// имеет приоритет над вычисленным.
// ══════════════════════════════════════════════════════════════════════════════

// LevelRule вычисляет уровень по накопленному XP.
type LevelRule interface {
	LevelFor(xp int) int
}

// LevelFunc адаптирует функцию к LevelRule.
type LevelFunc func(xp int) int

// LevelFor реализует LevelRule.
func (f LevelFunc) LevelFor(xp int) int {
	return f(xp)
}

// StepCurve - уровень растёт на 1 за каждые Base XP: 0..Base-1 → 1, Base..2Base-1 → 2.
type StepCurve struct {
	Base int
}

// DefaultLevelRule возвращает кривую с шагом 100 XP.
func DefaultLevelRule() LevelRule {
	return StepCurve{Base: 100}
}

// LevelFor реализует LevelRule.
func (c StepCurve) LevelFor(xp int) int {
	base := c.Base
	if base <= 0 {
		base = 100
	}
	if xp <= 0 {
		return 1
	}
	return xp/base + 1
}

// XPForLevel возвращает минимальный XP для уровня.
func (c StepCurve) XPForLevel(level int) int {
	base := c.Base
	if base <= 0 {
		base = 100
	}
	if level <= 1 {
		return 0
	}
	return (level - 1) * base
}
