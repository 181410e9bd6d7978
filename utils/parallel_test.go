package utils

import (
	"context"
	"sync/atomic"
	"testing"

	"go.viam.com/test"
)

func TestGroupWorkParallel(t *testing.T) {
	for _, totalSize := range []int{0, 1, 3, 17, 1000} {
		var groups int
		partials := map[int]*int64{}
		seen := make([]int32, totalSize)

		err := GroupWorkParallel(
			context.Background(),
			totalSize,
			func(numGroups int) {
				groups = numGroups
				for i := 0; i < numGroups; i++ {
					partials[i] = new(int64)
				}
			},
			func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc) {
				sum := partials[groupNum]
				return func(memberNum, workNum int) {
					atomic.AddInt32(&seen[workNum], 1)
					*sum += int64(workNum)
				}, nil
			},
		)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, groups, test.ShouldBeLessThanOrEqualTo, ParallelFactor)

		var total int64
		for _, p := range partials {
			total += *p
		}
		test.That(t, total, test.ShouldEqual, int64(totalSize*(totalSize-1)/2))
		for _, count := range seen {
			test.That(t, count, test.ShouldEqual, int32(1))
		}
	}
}

func TestGroupWorkParallelCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := GroupWorkParallel(ctx, 10, func(int) {}, func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc) {
		return nil, nil
	})
	test.That(t, err, test.ShouldEqual, context.Canceled)
}

func TestTruncInt(t *testing.T) {
	test.That(t, TruncInt(2.9), test.ShouldEqual, 2)
	test.That(t, TruncInt(-2.9), test.ShouldEqual, -2)
	test.That(t, DegToRad(180), test.ShouldAlmostEqual, 3.141592653589793)
}
