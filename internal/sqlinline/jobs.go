package sqlinline

const jobColumns = `id::text, owner_id, batch_id::text, state, format, duration_seconds, prompt, image_urls,
       external_task_id, cost_credits, artifact_url, quality_score, quality_issues, failure_reason,
       progress, refund_pending, archive_pending, created_at, updated_at, completed_at`

const QInsertJob = `--sql b512dcb2-e34b-4bec-8005-c78bc36b7a2f
insert into generation_jobs (id, owner_id, batch_id, state, format, duration_seconds, prompt, image_urls, external_task_id, cost_credits, progress)
values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
returning created_at, updated_at;
`

const QSelectJobByID = `--sql 99466787-ba80-49c2-a830-c63e6dffd1bf
select ` + jobColumns + `
from generation_jobs
where id = $1;
`

const QSelectJobByTaskID = `--sql df743ab7-07ef-448e-a323-f0e3d1180845
select ` + jobColumns + `
from generation_jobs
where external_task_id = $1;
`

const QJobExists = `--sql e5cb4569-20f8-40cf-a653-d5acb5a8a01c
select exists(select 1 from generation_jobs where id = $1);
`

const QSetJobExternalTaskID = `--sql 2d8f839a-bd8a-43a6-b222-5915d93c9187
update generation_jobs
set external_task_id = $2, updated_at = now()
where id = $1
  and state = 'SUBMITTED'
  and external_task_id is null;
`

const QMarkJobCompleted = `--sql dae2533c-89ff-4b60-adc9-274fcd05f361
update generation_jobs
set state = 'COMPLETED',
    artifact_url = $2,
    quality_score = $3,
    quality_issues = $4,
    progress = 100,
    archive_pending = $5,
    updated_at = now(),
    completed_at = now()
where id = $1
  and state = 'SUBMITTED';
`

const QMarkJobFailed = `--sql e6326ac7-0021-4444-a06a-d2d6b12ae414
update generation_jobs
set state = 'FAILED',
    failure_reason = $2,
    quality_score = $3,
    quality_issues = $4,
    refund_pending = true,
    updated_at = now(),
    completed_at = now()
where id = $1
  and state = 'SUBMITTED';
`

const QClearJobRefundPending = `--sql a9906762-064d-46c2-b00a-a8520426a052
update generation_jobs
set refund_pending = false, updated_at = now()
where id = $1;
`

const QUpdateJobProgress = `--sql ca57e1fe-ac59-40d9-bc2d-72be81dff2bf
update generation_jobs
set progress = $2, updated_at = now()
where id = $1
  and state = 'SUBMITTED';
`

const QSelectJobsByBatch = `--sql 1d3d2d2c-e250-43f6-baa3-46f82ba6aad2
select ` + jobColumns + `
from generation_jobs
where batch_id = $1
order by created_at asc, id asc;
`

const QSelectStuckJobs = `--sql 82488e8b-a330-466f-adb1-7fa5a1171fe6
select ` + jobColumns + `
from generation_jobs
where state = 'SUBMITTED'
  and created_at < $1
order by created_at asc
limit $2;
`

const QSelectRefundPendingJobs = `--sql a6d1deb4-1d39-4e62-a636-eb9f45a481d7
select ` + jobColumns + `
from generation_jobs
where state = 'FAILED'
  and refund_pending
order by updated_at asc
limit $1;
`

const QSelectArchivePendingJobs = `--sql 3f0c7a54-8e1b-4d29-9b6e-2c4a7d51e9f3
select ` + jobColumns + `
from generation_jobs
where state = 'COMPLETED'
  and archive_pending
order by completed_at asc
limit $1;
`

const QFinishJobArchive = `--sql 7b2e9d16-5a43-4c8f-a0d7-e61f38b4c925
update generation_jobs
set artifact_url = coalesce(nullif($2, ''), artifact_url),
    archive_pending = false,
    updated_at = now()
where id = $1
  and state = 'COMPLETED';
`
