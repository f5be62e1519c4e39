package blockdownloader

// calculateNextBatchLen returns the number of blocks to request next so that
// batches stay near targetBatchBytes. The average block size of the last
// batch is doubled to leave room for larger blocks, and growth is capped at
// 1.5 times the last batch so that one batch of tiny blocks cannot cause a
// huge request.
func calculateNextBatchLen(previousBatchBytes, previousBatchLen, targetBatchBytes int) int {
	if previousBatchLen < 1 {
		return 1
	}
	adjustedAverageBlockSize := max(2*previousBatchBytes/previousBatchLen, 1)
	nextBatchLen := max(targetBatchBytes/adjustedAverageBlockSize, 1)
	nextBatchLen = min(nextBatchLen, (3*previousBatchLen+1)/2)
	return min(nextBatchLen, MaxBlockBatchLen)
}
