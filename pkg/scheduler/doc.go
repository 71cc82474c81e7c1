/*
Package scheduler fires cron and interval jobs from the scheduled_tasks
collection. User jobs POST to the owning app's runtime; system jobs run
registered in-process functions. The live job set mirrors the database:
loaded at startup and adjusted as the API mutates tasks.
*/
package scheduler
